package kv

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/marcopiovanello/stein-dl/internal"
)

// Topic published on the lifecycle bus when a download reaches a terminal
// status. Callbacks receive an internal.Download snapshot.
const TopicFinished = "download:finished"

var ErrNotFound = errors.New("no download found for the given id")

// In-memory thread-safe registry of downloads with subscriber fan-out.
type Registry struct {
	table map[string]*internal.Download
	mu    sync.RWMutex

	subs  map[Handle]Subscriber
	next  Handle
	subMu sync.Mutex

	bus evbus.Bus
}

func NewRegistry() *Registry {
	return &Registry{
		table: make(map[string]*internal.Download),
		subs:  make(map[Handle]Subscriber),
		bus:   evbus.New(),
	}
}

// Bus exposes the lifecycle bus for collaborators interested in finished
// downloads (archiving, metrics).
func (r *Registry) Bus() evbus.Bus { return r.bus }

// Register stores a new download in the queued state and returns its id.
// An id is generated when the caller did not set one.
func (r *Registry) Register(d internal.Download) string {
	if d.Id == "" {
		d.Id = uuid.NewString()
	}

	now := time.Now()
	d.Status = internal.StatusQueued
	d.Progress = 0
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Details = maps.Clone(d.Details)
	if d.Details == nil {
		d.Details = make(map[string]any)
	}

	r.mu.Lock()
	r.table[d.Id] = &d
	r.mu.Unlock()

	return d.Id
}

// Get returns a copy of the download state given its id.
func (r *Registry) Get(id string) (internal.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.table[id]
	if !ok {
		return internal.Download{}, ErrNotFound
	}

	return snapshot(d), nil
}

// All returns a copy of every download, oldest first.
func (r *Registry) All() []internal.Download {
	r.mu.RLock()
	all := make([]internal.Download, 0, len(r.table))
	for _, d := range r.table {
		all = append(all, snapshot(d))
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b internal.Download) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Id, b.Id)
	})

	return all
}

// Keys returns the ids of the downloads still running or queued.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	running := []string{}
	for id, d := range r.table {
		if !d.Status.Terminal() {
			running = append(running, id)
		}
	}
	slices.Sort(running)

	return running
}

// Update sets progress and status of a download, merges details into the
// stored bag and publishes exactly one event. Progress is clamped to 0..100.
//
// Updating a download after it reached a terminal status is a caller error
// and is not checked here.
func (r *Registry) Update(id string, progress int, status internal.Status, details map[string]any) error {
	progress = max(0, min(100, progress))

	r.mu.Lock()
	d, ok := r.table[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	d.Progress = progress
	d.Status = status
	d.UpdatedAt = time.Now()
	maps.Copy(d.Details, details)

	ev := internal.Event{
		Type:     eventType(status),
		Id:       id,
		Progress: progress,
		Status:   status,
		Details:  maps.Clone(d.Details),
	}
	final := status.Terminal()
	var snap internal.Download
	if final {
		snap = snapshot(d)
	}
	r.mu.Unlock()

	r.publish(ev)

	if final {
		r.bus.Publish(TopicFinished, snap)
	}

	return nil
}

// Fail marks a download as errored keeping the progress reached so far.
func (r *Registry) Fail(id string, message string) error {
	current, err := r.Get(id)
	if err != nil {
		return err
	}

	return r.Update(id, current.Progress, internal.StatusError, map[string]any{
		"error":   message,
		"message": message,
	})
}

func eventType(s internal.Status) internal.EventType {
	switch s {
	case internal.StatusCompleted:
		return internal.EventComplete
	case internal.StatusError:
		return internal.EventError
	default:
		return internal.EventProgress
	}
}

func snapshot(d *internal.Download) internal.Download {
	c := *d
	c.Details = maps.Clone(d.Details)
	return c
}

// Subscribe adds s to the active subscriber set.
func (r *Registry) Subscribe(s Subscriber) Handle {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	r.next++
	r.subs[r.next] = s

	return r.next
}

// SubscribeChan returns a subscription delivering events on a buffered
// channel. A subscriber that falls behind by more than buf events is removed
// and its channel closed.
func (r *Registry) SubscribeChan(buf int) (Handle, <-chan internal.Event) {
	c := &chanSubscriber{ch: make(chan internal.Event, buf)}
	return r.Subscribe(c), c.ch
}

// Unsubscribe removes the subscriber registered with h. Unknown handles are
// ignored.
func (r *Registry) Unsubscribe(h Handle) {
	r.subMu.Lock()
	s, ok := r.subs[h]
	delete(r.subs, h)
	r.subMu.Unlock()

	if ok {
		closeSubscriber(s)
	}
}

func (r *Registry) publish(ev internal.Event) {
	r.subMu.Lock()
	active := maps.Clone(r.subs)
	r.subMu.Unlock()

	for h, s := range active {
		if err := s.Send(ev); err != nil {
			slog.Debug("dropping subscriber", slog.Uint64("handle", uint64(h)), slog.Any("err", err))
			r.Unsubscribe(h)
		}
	}
}
