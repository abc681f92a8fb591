package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDetectsSelfByHostPort(t *testing.T) {
	urls := []string{"http://node-a:8001", "http://node-b:8002", "http://node-c:8003"}
	m := New(urls, "http://node-b:8002", nil)

	self, ok := m.SelfURL()
	assert.True(t, ok)
	assert.Equal(t, "http://node-b:8002", self)
}

func TestNewToleratesFormattingDifferences(t *testing.T) {
	urls := []string{"http://node-a:8001"}
	m := New(urls, "http://node-a:8001/", nil)

	_, ok := m.SelfURL()
	assert.True(t, ok, "trailing slash must not defeat host/port self-detection")
}

func TestNewWarnsButStartsWhenSelfMissing(t *testing.T) {
	urls := []string{"http://node-a:8001", "http://node-b:8002"}
	m := New(urls, "http://node-z:9999", nil)

	_, ok := m.SelfURL()
	assert.False(t, ok)
	assert.Equal(t, urls, m.URLs())
}

func TestSizeIsAtLeastOne(t *testing.T) {
	m := New(nil, "http://solo:8001", nil)
	assert.Equal(t, 1, m.Size())

	m2 := New([]string{"http://a:1", "http://b:2"}, "http://a:1", nil)
	assert.Equal(t, 2, m2.Size())
}

func TestURLsReturnsACopy(t *testing.T) {
	urls := []string{"http://a:1", "http://b:2"}
	m := New(urls, "http://a:1", nil)

	got := m.URLs()
	got[0] = "mutated"
	assert.Equal(t, "http://a:1", m.URLs()[0], "mutating the returned slice must not affect Membership's internal state")
}
