// Package api wires up the gin HTTP router: /v0/status, /v0/entity, and the
// middleware chain (request ID, structured logging, Prometheus metrics,
// panic recovery) in front of them. Coordinator errors are translated into
// status codes by the entity handlers themselves (respondEntity and
// respondWrite), not by middleware.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"kvshard/internal/coordinator"
	"kvshard/internal/record"
)

// coordinatorAPI is the capability Handler needs from the Coordinator.
type coordinatorAPI interface {
	Get(ctx context.Context, key []byte, ack, from int, replicated bool) (record.Record, error)
	Put(ctx context.Context, key, value []byte, ts *time.Time, ack, from int, replicated bool) (time.Time, error)
	Delete(ctx context.Context, key []byte, ts *time.Time, ack, from int, replicated bool) (time.Time, error)
}

// Handler holds the dependencies injected from main.
type Handler struct {
	coord coordinatorAPI
	log   *logrus.Entry
}

// NewHandler creates a Handler.
func NewHandler(coord coordinatorAPI, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{coord: coord, log: log}
}

// Register mounts routes and the middleware chain on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(RequestID(), Logger(h.log), Metrics(), Recovery(h.log))
	r.NoRoute(NotFoundRewrite())

	r.GET("/v0/status", h.Status)
	r.GET("/v0/entity", h.GetEntity)
	r.PUT("/v0/entity", h.PutEntity)
	r.DELETE("/v0/entity", h.DeleteEntity)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Status handles GET /v0/status.
func (h *Handler) Status(c *gin.Context) {
	c.String(http.StatusOK, "I'm OK")
}

var replicasPattern = regexp.MustCompile(`^(\d+)/(\d+)$`)

// parseReplicas parses the optional replicas=ack/from query parameter,
// defaulting to ack=from=1. It only validates shape and positivity; whether
// from actually fits the cluster size is the Coordinator's job.
func parseReplicas(raw string) (ack, from int, err error) {
	if raw == "" {
		return 1, 1, nil
	}
	m := replicasPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, fmt.Errorf("malformed replicas parameter %q, want A/F", raw)
	}
	a, _ := strconv.Atoi(m[1])
	f, _ := strconv.Atoi(m[2])
	if a < 1 || a > f {
		return 0, 0, fmt.Errorf("replicas parameter %q must satisfy 1<=ack<=from", raw)
	}
	return a, f, nil
}

func isReplicated(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("x-replicated"), "yes")
}

// parseKey extracts and validates the id query parameter, which gin has
// already URL-decoded.
func parseKey(c *gin.Context) ([]byte, error) {
	key := c.Query("id")
	if key == "" {
		return nil, errors.New("missing or empty id parameter")
	}
	return []byte(key), nil
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// GetEntity handles GET /v0/entity.
func (h *Handler) GetEntity(c *gin.Context) {
	key, err := parseKey(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ack, from, err := parseReplicas(c.Query("replicas"))
	if err != nil {
		badRequest(c, err)
		return
	}

	rec, err := h.coord.Get(c.Request.Context(), key, ack, from, isReplicated(c))
	h.respondEntity(c, rec, err)
}

// PutEntity handles PUT /v0/entity.
func (h *Handler) PutEntity(c *gin.Context) {
	key, err := parseKey(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ack, from, err := parseReplicas(c.Query("replicas"))
	if err != nil {
		badRequest(c, err)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, fmt.Errorf("reading request body: %w", err))
		return
	}

	ts, err := pinnedTimestamp(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	_, err = h.coord.Put(c.Request.Context(), key, body, ts, ack, from, isReplicated(c))
	h.respondWrite(c, http.StatusCreated, err)
}

// DeleteEntity handles DELETE /v0/entity.
func (h *Handler) DeleteEntity(c *gin.Context) {
	key, err := parseKey(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ack, from, err := parseReplicas(c.Query("replicas"))
	if err != nil {
		badRequest(c, err)
		return
	}

	ts, err := pinnedTimestamp(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	_, err = h.coord.Delete(c.Request.Context(), key, ts, ack, from, isReplicated(c))
	h.respondWrite(c, http.StatusAccepted, err)
}

// pinnedTimestamp reads an inbound x-last-modified header, used on the
// internal replicated hop to pin every replica to the coordinator's single
// chosen timestamp. Absent on external client requests.
func pinnedTimestamp(c *gin.Context) (*time.Time, error) {
	raw := c.GetHeader("x-last-modified")
	if raw == "" {
		return nil, nil
	}
	ts, err := record.ParseTimestamp(raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func (h *Handler) respondEntity(c *gin.Context, rec record.Record, err error) {
	var nf *coordinator.NotFoundError
	switch {
	case err == nil:
		c.Header("x-last-modified", record.FormatTimestamp(rec.Timestamp))
		c.Data(http.StatusOK, "application/octet-stream", rec.Value)
	case errors.As(err, &nf):
		if nf.Timestamp != nil {
			c.Header("x-last-modified", record.FormatTimestamp(*nf.Timestamp))
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, coordinator.ErrNotEnoughReplicas):
		_ = c.Error(err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrBadParameters):
		badRequest(c, err)
	default:
		h.internalError(c, err)
	}
}

func (h *Handler) respondWrite(c *gin.Context, successStatus int, err error) {
	switch {
	case err == nil:
		c.Status(successStatus)
	case errors.Is(err, coordinator.ErrNotEnoughReplicas):
		_ = c.Error(err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrBadParameters):
		badRequest(c, err)
	default:
		h.internalError(c, err)
	}
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.log.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
	}).WithError(err).Error("internal store error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
