package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
)

func newTestServer(t *testing.T) (*httptest.Server, *kv.Registry) {
	t.Helper()

	reg := kv.NewRegistry()
	s, err := Container(reg)
	if err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Route("/rpc", s.ApplyRouter())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv, reg
}

type rpcResponse struct {
	Id     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  any             `json:"error"`
}

func call(t *testing.T, url, body string) rpcResponse {
	t.Helper()

	res, err := http.Post(url+"/rpc/http", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestJSONRPCProgress(t *testing.T) {
	srv, reg := newTestServer(t)

	id := reg.Register(internal.Download{})
	reg.Update(id, 42, internal.StatusDownloading, map[string]any{"message": "Downloading video"})

	out := call(t, srv.URL, `{"id":1,"method":"Service.Progress","params":[{"id":"`+id+`"}]}`)
	if out.Error != nil {
		t.Fatalf("rpc error: %v", out.Error)
	}

	var p Progress
	json.Unmarshal(out.Result, &p)
	if p.Progress != 42 || p.Status != internal.StatusDownloading {
		t.Errorf("unexpected progress %+v", p)
	}

	out = call(t, srv.URL, `{"id":2,"method":"Service.Progress","params":[{"id":"missing"}]}`)
	if out.Error == nil {
		t.Errorf("expected an error for an unknown id")
	}
}

func TestJSONRPCPending(t *testing.T) {
	srv, reg := newTestServer(t)

	a := reg.Register(internal.Download{})
	b := reg.Register(internal.Download{})
	reg.Update(b, 100, internal.StatusCompleted, nil)

	out := call(t, srv.URL, `{"id":1,"method":"Service.Pending","params":[{}]}`)

	var pending Pending
	json.Unmarshal(out.Result, &pending)
	if len(pending) != 1 || pending[0] != a {
		t.Errorf("unexpected pending %v", pending)
	}

	out = call(t, srv.URL, `{"id":2,"method":"Service.Running","params":[{}]}`)
	var running Running
	json.Unmarshal(out.Result, &running)
	if len(running) != 2 {
		t.Errorf("expected 2 downloads, got %d", len(running))
	}
}

func TestWebSocketPushesEvents(t *testing.T) {
	srv, reg := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpc/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { conn.Close() }()

	id := reg.Register(internal.Download{})

	// the subscription is registered right after the upgrade
	deadline := time.Now().Add(5 * time.Second)
	var ev internal.Event
	for {
		reg.Update(id, 100, internal.StatusCompleted, map[string]any{"filename": "a.mp4"})

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if err := conn.ReadJSON(&ev); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no event received")
		}
		// a timed out read leaves the connection unusable
		conn.Close()
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatal(err)
		}
	}

	if ev.Type != internal.EventComplete || ev.Id != id || ev.Details["filename"] != "a.mp4" {
		t.Errorf("unexpected event %+v", ev)
	}
}
