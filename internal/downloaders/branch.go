package downloaders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"github.com/marcopiovanello/stein-dl/internal/pipes"
	"github.com/marcopiovanello/stein-dl/internal/resolver"
)

// Progress ranges of the download stages.
const (
	resolvedAt     = 10
	videoDoneAt    = 60
	audioDoneAt    = 80
	mergedAt       = 100
	mergedFileExt  = ".mp4"
	trackExtension = ".m4s"
)

// BranchDownloader downloads the stream of one branch: resolve, fetch video,
// fetch audio, then merge or leave the raw tracks.
type BranchDownloader struct {
	Id       string
	Download internal.Download

	resolver StreamResolver
	opener   StreamOpener
	muxer    pipes.Muxer
	registry *kv.Registry

	downloadDir string
	tempDir     string

	progress *progressTracker
}

func (b *BranchDownloader) GetId() string { return b.Id }

// Start runs the whole sequence. Any failure marks only this download as
// errored with a readable message.
func (b *BranchDownloader) Start(ctx context.Context) error {
	err := b.run(ctx)
	if err == nil {
		return nil
	}

	slog.Error("download failed",
		slog.String("id", b.Id),
		slog.String("branch", b.Download.Branch.Id),
		slog.Int64("cid", b.Download.Branch.CID),
		slog.Any("err", err),
	)

	if ferr := b.registry.Fail(b.Id, describe(err)); ferr != nil {
		slog.Error("failed to record download error", slog.String("id", b.Id), slog.Any("err", ferr))
	}

	return err
}

func (b *BranchDownloader) run(ctx context.Context) error {
	branch := b.Download.Branch
	name := sanitizeFilename(branch.Title)

	b.progress.set(0, map[string]any{
		"message": "Resolving stream",
		"title":   branch.Title,
	})

	desc, err := b.resolver.Resolve(ctx, b.Download.Video, branch.CID, b.Download.Quality)
	if err != nil {
		return &stepError{step: "stream resolution", err: err}
	}

	details := map[string]any{
		"message": "Downloading video",
		"quality": desc.Video.Quality,
	}
	if desc.Substituted {
		details["requestedQuality"] = desc.RequestedQuality
	}
	b.progress.set(resolvedAt, details)

	if desc.Muxed {
		return b.single(ctx, desc, name)
	}

	videoTmp := filepath.Join(b.tempDir, b.Id+"_video"+trackExtension)
	audioTmp := filepath.Join(b.tempDir, b.Id+"_audio"+trackExtension)
	defer removeAll(videoTmp, audioTmp)

	if err := b.fetch(ctx, desc.Video.URL, videoTmp, resolvedAt, videoDoneAt, "video"); err != nil {
		return &stepError{step: "video download", err: err}
	}

	b.progress.set(videoDoneAt, map[string]any{"message": "Downloading audio"})

	if err := b.fetch(ctx, desc.Audio.URL, audioTmp, videoDoneAt, audioDoneAt, "audio"); err != nil {
		return &stepError{step: "audio download", err: err}
	}

	if !b.Download.Options.MergeAudio {
		return b.keepTracks(videoTmp, audioTmp, name)
	}

	b.progress.set(audioDoneAt, map[string]any{"message": "Merging video and audio"})

	filename := name + mergedFileExt
	output := filepath.Join(b.downloadDir, filename)

	if err := b.muxer.Mux(ctx, videoTmp, audioTmp, output); err != nil {
		os.Remove(output)
		return &stepError{step: "merge", err: err}
	}

	b.progress.complete(map[string]any{
		"message":  "Download completed",
		"filename": filename,
		"path":     output,
	})

	return nil
}

// single downloads an already muxed stream straight to the download folder.
func (b *BranchDownloader) single(ctx context.Context, desc *resolver.Descriptor, name string) error {
	filename := name + legacyExtension(desc.Video.URL)
	output := filepath.Join(b.downloadDir, filename)

	if err := b.fetch(ctx, desc.Video.URL, output, resolvedAt, audioDoneAt, "video"); err != nil {
		return &stepError{step: "video download", err: err}
	}

	b.progress.complete(map[string]any{
		"message":  "Download completed",
		"filename": filename,
		"path":     output,
	})

	return nil
}

// keepTracks moves the raw tracks next to the other downloads.
func (b *BranchDownloader) keepTracks(videoTmp, audioTmp, name string) error {
	video := name + "_video" + trackExtension
	audio := name + "_audio" + trackExtension

	for src, dst := range map[string]string{videoTmp: video, audioTmp: audio} {
		if err := os.Rename(src, filepath.Join(b.downloadDir, dst)); err != nil {
			return &stepError{step: "finalize", err: fmt.Errorf("%w: %w", pipes.ErrStorage, err)}
		}
	}

	b.progress.complete(map[string]any{
		"message":  "Download completed (not merged)",
		"filename": video + ", " + audio,
		"files":    []string{video, audio},
	})

	return nil
}

// fetch streams url into path mapping the received bytes onto [lo, hi].
// Without a declared length the progress stays at lo.
func (b *BranchDownloader) fetch(ctx context.Context, url, path string, lo, hi int, kind string) error {
	res, err := b.opener.Open(ctx, url)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var (
		total = res.ContentLength
		start = time.Now()
	)

	fw := &pipes.FileWriter{
		Path: path,
		OnProgress: func(written int64) {
			if total <= 0 {
				return
			}
			b.progress.advance(lo+int(written*int64(hi-lo)/total), map[string]any{
				"message": fmt.Sprintf("Downloading %s... %s", kind, percent(written, total)),
				"speed":   formatSpeed(written, time.Since(start)),
			})
		},
	}

	written, err := fw.Copy(ctx, res.Body)
	if err != nil {
		return err
	}

	slog.Info("track downloaded",
		slog.String("id", b.Id),
		slog.String("kind", kind),
		slog.Int64("bytes", written),
	)

	return nil
}

func removeAll(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove temporary file", slog.String("path", p), slog.Any("err", err))
		}
	}
}

type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// describe returns a message safe to show to clients.
func describe(err error) string {
	step := "download"
	var se *stepError
	if errors.As(err, &se) {
		step = se.step
	}

	switch {
	case errors.Is(err, resolver.ErrExhausted):
		return "No playable stream found for this branch"
	case errors.Is(err, pipes.ErrMux):
		return "Merging video and audio failed"
	case errors.Is(err, pipes.ErrStorage):
		return fmt.Sprintf("%s failed: could not write to disk", capitalize(step))
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("%s interrupted", capitalize(step))
	default:
		return fmt.Sprintf("%s failed", capitalize(step))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
