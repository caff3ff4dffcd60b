package pipes

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestFileWriterCopy(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "video.m4s")

	var seen []int64
	fw := &FileWriter{Path: out, OnProgress: func(n int64) { seen = append(seen, n) }}

	n, err := fw.Copy(context.Background(), strings.NewReader("some video bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 16 {
		t.Errorf("wrote %d bytes, want 16", n)
	}
	if len(seen) == 0 || seen[len(seen)-1] != 16 {
		t.Errorf("progress not reported: %v", seen)
	}

	data, err := os.ReadFile(out)
	if err != nil || string(data) != "some video bytes" {
		t.Errorf("unexpected file content %q (%v)", data, err)
	}
	if _, err := os.Stat(out + ".part"); !os.IsNotExist(err) {
		t.Errorf("partial file left behind")
	}
}

type brokenReader struct{ sent bool }

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "partial"), nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestFileWriterReadFailureRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "audio.m4s")

	_, err := (&FileWriter{Path: out}).Copy(context.Background(), &brokenReader{})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected read error, got %v", err)
	}
	if errors.Is(err, ErrStorage) {
		t.Errorf("read failure reported as storage failure")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files left behind: %v", entries)
	}
}

func TestFileWriterStorageFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "dir", "video.m4s")

	_, err := (&FileWriter{Path: out}).Copy(context.Background(), strings.NewReader("x"))
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestFileWriterHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&FileWriter{Path: filepath.Join(t.TempDir(), "v")}).Copy(ctx, strings.NewReader("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// fakeFFmpeg writes an executable script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpegMuxer(t *testing.T) {
	bin := fakeFFmpeg(t, `for last; do :; done
printf 'frame=1\rframe=2\r' >&2
cat "$3" "$5" > "$last"`)

	dir := t.TempDir()
	video := filepath.Join(dir, "v.m4s")
	audio := filepath.Join(dir, "a.m4s")
	out := filepath.Join(dir, "out.mp4")
	os.WriteFile(video, []byte("V"), 0o644)
	os.WriteFile(audio, []byte("A"), 0o644)

	m := &FFmpegMuxer{Path: bin}
	if err := m.Mux(context.Background(), video, audio, out); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(out)
	if string(data) != "VA" {
		t.Errorf("unexpected muxed output %q", data)
	}
}

func TestFFmpegMuxerFailure(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "Invalid data found when processing input" >&2
exit 1`)

	err := (&FFmpegMuxer{Path: bin}).Mux(context.Background(), "v", "a", "out.mp4")
	if !errors.Is(err, ErrMux) {
		t.Fatalf("expected ErrMux, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data") {
		t.Errorf("stderr tail missing from %v", err)
	}
}

func TestFFmpegMuxerMissingBinary(t *testing.T) {
	err := (&FFmpegMuxer{Path: filepath.Join(t.TempDir(), "nope")}).Mux(context.Background(), "v", "a", "o")
	if !errors.Is(err, ErrMux) {
		t.Errorf("expected ErrMux, got %v", err)
	}
}
