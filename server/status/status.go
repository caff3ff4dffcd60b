package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"golang.org/x/sys/unix"
)

type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Downloads Counts    `json:"downloads"`
	FreeSpace uint64    `json:"freeSpace"`
	// humanized FreeSpace
	Free string `json:"free"`
}

type Counts struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"downloading"`
	Completed int `json:"completed"`
	Failed    int `json:"error"`
}

type Service struct {
	registry    *kv.Registry
	downloadDir string
}

func New(registry *kv.Registry, downloadDir string) *Service {
	return &Service{registry: registry, downloadDir: downloadDir}
}

func (s *Service) Health() Health {
	h := Health{
		Status:    "ok",
		Timestamp: time.Now(),
	}

	for _, d := range s.registry.All() {
		h.Downloads.Total++
		switch d.Status {
		case internal.StatusQueued:
			h.Downloads.Queued++
		case internal.StatusDownloading:
			h.Downloads.Running++
		case internal.StatusCompleted:
			h.Downloads.Completed++
		case internal.StatusError:
			h.Downloads.Failed++
		}
	}

	free, err := FreeSpace(s.downloadDir)
	if err != nil {
		slog.Warn("failed to retrieve free space", slog.String("path", s.downloadDir), slog.Any("err", err))
	}
	h.FreeSpace = free
	h.Free = humanize.Bytes(free)

	return h
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Health()); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func ApplyRouter(s *Service) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", s.handleHealth)
	}
}
