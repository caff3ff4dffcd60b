package downloaders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"github.com/marcopiovanello/stein-dl/internal/pipes"
	"github.com/marcopiovanello/stein-dl/internal/queue"
	"github.com/marcopiovanello/stein-dl/internal/resolver"
)

var testRef = bilibili.VideoRef{BVID: "BV1hm4y1U7qN"}

var mediaPayload = bytes.Repeat([]byte("0123456789abcdef"), 8192)

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(mediaPayload)))
		w.Write(mediaPayload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeResolver struct {
	base      string
	failAudio map[int64]bool
	legacy    map[int64]bool
	exhausted map[int64]bool
}

func (f *fakeResolver) Resolve(ctx context.Context, ref bilibili.VideoRef, cid int64, quality int) (*resolver.Descriptor, error) {
	if f.exhausted[cid] {
		return nil, errors.Join(resolver.ErrExhausted, bilibili.ErrTransport)
	}

	if f.legacy[cid] {
		track := resolver.Track{URL: fmt.Sprintf("%s/media/legacy-%d.flv?e=1", f.base, cid), Quality: quality}
		return &resolver.Descriptor{Video: track, Audio: track, Muxed: true, RequestedQuality: quality}, nil
	}

	audio := fmt.Sprintf("%s/media/audio-%d.m4s", f.base, cid)
	if f.failAudio[cid] {
		audio = f.base + "/media/missing"
	}

	return &resolver.Descriptor{
		Video:            resolver.Track{URL: fmt.Sprintf("%s/media/video-%d.m4s", f.base, cid), Quality: quality},
		Audio:            resolver.Track{URL: audio, Quality: 30280},
		RequestedQuality: quality,
	}, nil
}

type fakeMuxer struct {
	calls atomic.Int32
	fail  bool
}

func (m *fakeMuxer) Name() string { return "fake-muxer" }

func (m *fakeMuxer) Mux(ctx context.Context, video, audio, output string) error {
	m.calls.Add(1)
	if m.fail {
		return fmt.Errorf("%w: exit status 1", pipes.ErrMux)
	}
	v, err := os.ReadFile(video)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audio)
	if err != nil {
		return err
	}
	return os.WriteFile(output, append(v, a...), 0o644)
}

type testEnv struct {
	registry    *kv.Registry
	resolver    *fakeResolver
	muxer       *fakeMuxer
	dispatcher  *queue.Dispatcher
	pipeline    *Pipeline
	downloadDir string
	tempDir     string
}

func newTestEnv(t *testing.T, concurrency int) *testEnv {
	t.Helper()

	srv := mediaServer(t)
	dir := t.TempDir()

	env := &testEnv{
		registry:    kv.NewRegistry(),
		resolver:    &fakeResolver{base: srv.URL, failAudio: map[int64]bool{}, legacy: map[int64]bool{}, exhausted: map[int64]bool{}},
		muxer:       &fakeMuxer{},
		dispatcher:  queue.NewDispatcher(context.Background(), concurrency),
		downloadDir: filepath.Join(dir, "downloads"),
		tempDir:     filepath.Join(dir, "temp"),
	}

	env.pipeline = NewPipeline(
		env.registry,
		env.resolver,
		bilibili.NewClient(bilibili.WithHTTPClient(srv.Client())),
		env.muxer,
		env.dispatcher,
		PipelineConfig{DownloadDir: env.downloadDir, TempDir: env.tempDir},
	)

	return env
}

func (e *testEnv) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

var testBranches = []internal.Branch{
	{Id: "main_100", CID: 100, Title: "Main storyline", IsMain: true},
	{Id: "choice_1_101", CID: 101, Title: "Save the world", Depth: 1},
	{Id: "choice_2_102", CID: 102, Title: "Protect your friends", Depth: 1},
}

func TestMainBranchMergedEndToEnd(t *testing.T) {
	env := newTestEnv(t, 1)

	// hold the only slot so the download stays queued
	release, running := make(chan struct{}), make(chan struct{})
	env.dispatcher.Publish(queue.Task{Id: "blocker", Run: func(ctx context.Context) {
		close(running)
		<-release
	}})
	<-running

	_, events := env.registry.SubscribeChan(1024)

	handles, err := env.pipeline.Start(context.Background(), Request{
		Video:      testRef,
		Title:      "My Video: part 1",
		RootCID:    100,
		Options:    internal.Options{MergeAudio: true},
		Selections: []string{MainSelection},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 1 || handles[0].Title != "My Video: part 1" {
		t.Fatalf("unexpected handles %+v", handles)
	}

	id := handles[0].Id
	if d, _ := env.registry.Get(id); d.Status != internal.StatusQueued {
		t.Errorf("status before scheduling = %s, want queued", d.Status)
	}

	close(release)
	env.pipeline.Wait()

	d, err := env.registry.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != internal.StatusCompleted || d.Progress != 100 {
		t.Fatalf("unexpected final state %+v", d)
	}

	filename, _ := d.Details["filename"].(string)
	if filepath.Ext(filename) != ".mp4" {
		t.Errorf("filename %q is not a muxed container", filename)
	}
	if filename != "My_Video__part_1.mp4" {
		t.Errorf("unexpected filename %q", filename)
	}

	data, err := os.ReadFile(filepath.Join(env.downloadDir, filename))
	if err != nil || len(data) != 2*len(mediaPayload) {
		t.Errorf("unexpected output (%d bytes, %v)", len(data), err)
	}

	env.assertNoTempFiles(t)

	var seen []internal.Status
	for len(events) > 0 {
		ev := <-events
		if ev.Id != id {
			continue
		}
		if len(seen) == 0 || seen[len(seen)-1] != ev.Status {
			seen = append(seen, ev.Status)
		}
	}
	want := []internal.Status{internal.StatusDownloading, internal.StatusCompleted}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("status transitions %v, want %v", seen, want)
	}
}

func TestPartialFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	env.resolver.failAudio[101] = true

	_, events := env.registry.SubscribeChan(4096)

	handles, err := env.pipeline.Start(context.Background(), Request{
		Video:      testRef,
		Title:      "Interactive",
		RootCID:    100,
		Options:    internal.Options{MergeAudio: true},
		Selections: []string{MainSelection, "choice_1_101", "choice_2_102"},
		Branches:   testBranches,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(handles) != 3 {
		t.Fatalf("expected 3 handles, got %d", len(handles))
	}
	env.pipeline.Wait()

	for i, h := range handles {
		d, _ := env.registry.Get(h.Id)
		if i == 1 {
			if d.Status != internal.StatusError {
				t.Errorf("download %s status = %s, want error", h.Title, d.Status)
			}
			if d.Details["error"] != "Audio download failed" {
				t.Errorf("unexpected error message %q", d.Details["error"])
			}
			if d.Progress < videoDoneAt {
				t.Errorf("progress went back on failure: %d", d.Progress)
			}
			continue
		}
		if d.Status != internal.StatusCompleted || d.Progress != 100 {
			t.Errorf("download %s = %s/%d, want completed/100", h.Title, d.Status, d.Progress)
		}
	}

	if n := env.muxer.calls.Load(); n != 2 {
		t.Errorf("muxer called %d times, want 2", n)
	}
	env.assertNoTempFiles(t)

	checkMonotonic(t, events)
}

// checkMonotonic drains events and checks every download progress never
// decreased and nothing was published after a terminal status.
func checkMonotonic(t *testing.T, events <-chan internal.Event) {
	t.Helper()

	last := map[string]int{}
	done := map[string]bool{}

	for len(events) > 0 {
		ev := <-events
		if done[ev.Id] {
			t.Errorf("event after terminal status for %s: %+v", ev.Id, ev)
		}
		if ev.Progress < last[ev.Id] {
			t.Errorf("progress of %s went from %d to %d", ev.Id, last[ev.Id], ev.Progress)
		}
		last[ev.Id] = ev.Progress
		done[ev.Id] = ev.Status.Terminal()
	}
}

func TestUnmergedKeepsRawTracks(t *testing.T) {
	env := newTestEnv(t, 0)

	handles, err := env.pipeline.Start(context.Background(), Request{
		Video:      testRef,
		Selections: []string{"choice_2_102"},
		Branches:   testBranches,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.pipeline.Wait()

	d, _ := env.registry.Get(handles[0].Id)
	if d.Status != internal.StatusCompleted {
		t.Fatalf("unexpected state %+v", d)
	}
	if d.Quality != DefaultQuality {
		t.Errorf("quality = %d, want default %d", d.Quality, DefaultQuality)
	}
	for _, f := range []string{"Protect_your_friends_video.m4s", "Protect_your_friends_audio.m4s"} {
		if _, err := os.Stat(filepath.Join(env.downloadDir, f)); err != nil {
			t.Errorf("raw track missing: %v", err)
		}
	}
	if env.muxer.calls.Load() != 0 {
		t.Errorf("muxer should not run without mergeAudio")
	}
	env.assertNoTempFiles(t)
}

func TestLegacyStreamIsNotRemuxed(t *testing.T) {
	env := newTestEnv(t, 0)
	env.resolver.legacy[101] = true

	handles, _ := env.pipeline.Start(context.Background(), Request{
		Video:      testRef,
		Options:    internal.Options{MergeAudio: true},
		Selections: []string{"choice_1_101"},
		Branches:   testBranches,
	})
	env.pipeline.Wait()

	d, _ := env.registry.Get(handles[0].Id)
	if d.Status != internal.StatusCompleted || d.Details["filename"] != "Save_the_world.flv" {
		t.Fatalf("unexpected state %+v", d)
	}
	if env.muxer.calls.Load() != 0 {
		t.Errorf("already muxed stream sent to the muxer")
	}
	env.assertNoTempFiles(t)
}

func TestFailureMessages(t *testing.T) {
	env := newTestEnv(t, 0)
	env.resolver.exhausted[101] = true
	env.muxer.fail = true

	handles, _ := env.pipeline.Start(context.Background(), Request{
		Video:      testRef,
		Options:    internal.Options{MergeAudio: true},
		Selections: []string{"choice_1_101", "choice_2_102"},
		Branches:   testBranches,
	})
	env.pipeline.Wait()

	exhausted, _ := env.registry.Get(handles[0].Id)
	if exhausted.Status != internal.StatusError || exhausted.Details["error"] != "No playable stream found for this branch" {
		t.Errorf("unexpected state %+v", exhausted)
	}

	muxFailed, _ := env.registry.Get(handles[1].Id)
	if muxFailed.Details["error"] != "Merging video and audio failed" || muxFailed.Progress != audioDoneAt {
		t.Errorf("unexpected state %+v", muxFailed)
	}

	for _, d := range []internal.Download{exhausted, muxFailed} {
		if msg, _ := d.Details["error"].(string); strings.Contains(msg, "127.0.0.1") || strings.Contains(msg, "exit status") {
			t.Errorf("internal detail leaked: %q", msg)
		}
	}
	env.assertNoTempFiles(t)
}

func TestStartSkipsUnknownSelections(t *testing.T) {
	env := newTestEnv(t, 0)

	handles, err := env.pipeline.Start(context.Background(), Request{
		Video:      testRef,
		Selections: []string{"nope", "choice_1_101"},
		Branches:   testBranches,
	})
	if err != nil {
		t.Fatal(err)
	}
	env.pipeline.Wait()

	if len(handles) != 1 || handles[0].Title != "Save the world" {
		t.Errorf("unexpected handles %+v", handles)
	}
}

func TestStartRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, 0)

	for _, req := range []Request{
		{Selections: []string{MainSelection}},
		{Video: testRef},
	} {
		if _, err := env.pipeline.Start(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Start(%+v) error = %v", req, err)
		}
	}
}

func TestMainUsesDiscoveredRoot(t *testing.T) {
	b, ok := lookupBranch(Request{Title: "Video title", Branches: testBranches}, MainSelection)
	if !ok || b.CID != 100 || b.Title != "Video title" {
		t.Errorf("unexpected main branch %+v", b)
	}

	if _, ok := lookupBranch(Request{}, MainSelection); ok {
		t.Errorf("main resolved without a root cid")
	}
}
