package downloaders

import (
	"log/slog"
	"sync"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
)

// progressTracker publishes the progress of a single download. Reported
// values never go backwards and repeated values are not republished.
type progressTracker struct {
	id       string
	registry *kv.Registry
	last     int
	mutex    sync.Mutex
}

func (t *progressTracker) set(progress int, details map[string]any) {
	t.publish(progress, internal.StatusDownloading, details, true)
}

// advance only publishes when the progress actually moved.
func (t *progressTracker) advance(progress int, details map[string]any) {
	t.publish(progress, internal.StatusDownloading, details, false)
}

func (t *progressTracker) complete(details map[string]any) {
	t.publish(100, internal.StatusCompleted, details, true)
}

func (t *progressTracker) publish(progress int, status internal.Status, details map[string]any, force bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if progress < t.last {
		progress = t.last
	}
	if progress == t.last && !force {
		return
	}
	t.last = progress

	if err := t.registry.Update(t.id, progress, status, details); err != nil {
		slog.Error("failed to update progress", slog.String("id", t.id), slog.Any("err", err))
	}
}
