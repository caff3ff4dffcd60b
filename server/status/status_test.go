package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
)

func TestHealth(t *testing.T) {
	reg := kv.NewRegistry()
	reg.Register(internal.Download{})
	done := reg.Register(internal.Download{})
	reg.Update(done, 100, internal.StatusCompleted, nil)

	r := chi.NewRouter()
	r.Route("/api/health", ApplyRouter(New(reg, t.TempDir())))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var h Health
	if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Downloads.Total != 2 || h.Downloads.Queued != 1 || h.Downloads.Completed != 1 {
		t.Errorf("unexpected health %+v", h)
	}
	if h.FreeSpace == 0 {
		t.Errorf("free space not reported")
	}
}
