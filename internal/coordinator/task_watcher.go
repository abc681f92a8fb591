package coordinator

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// TaskWatcher owns replica tasks that were cancelled after their coordinator
// reached its ack threshold early. It drains their eventual outcome off the
// results channel so the goroutine sending into it is never left blocked,
// logs failures, and guarantees no task outlives process shutdown.
//
// This is the spec's designated extension point for future anti-entropy or
// read-repair: a failed outcome observed here is exactly the signal such a
// mechanism would act on.
type TaskWatcher struct {
	log *logrus.Entry
	wg  sync.WaitGroup
}

// NewTaskWatcher creates a TaskWatcher. One instance is shared by every
// Coordinator call for the process lifetime.
func NewTaskWatcher(log *logrus.Entry) *TaskWatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &TaskWatcher{log: log}
}

// Watch hands off the remaining (not-yet-arrived) outcomes on results to a
// background goroutine. The caller must have already cancelled the shared
// task context before calling Watch, so every outstanding task is
// cooperatively cancelled; Watch just waits out their arrival and logs
// anything but success.
func (w *TaskWatcher) Watch(remaining int, results <-chan outcome) {
	if remaining <= 0 {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for i := 0; i < remaining; i++ {
			res := <-results
			if res.err != nil {
				w.log.WithError(res.err).Debug("coordinator: abandoned replica task finished after quorum was already reached")
			}
		}
	}()
}

// Shutdown waits for every outstanding watched task to finish. Call once,
// during process teardown, after the outbound HTTP client's own requests
// have been given their own deadlines — Shutdown itself does not impose one,
// since every task it watches is already cancelled and should resolve
// quickly.
func (w *TaskWatcher) Shutdown() {
	w.wg.Wait()
}
