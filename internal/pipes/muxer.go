package pipes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

const stderrTail = 5

// FFmpegMuxer copies the video stream and re-encodes the audio to AAC.
type FFmpegMuxer struct {
	// Path of the ffmpeg executable, "ffmpeg" when empty.
	Path string
}

func (m *FFmpegMuxer) Name() string { return "ffmpeg-muxer" }

func (m *FFmpegMuxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	bin := m.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		outputPath,
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMux, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrMux, err)
	}

	tail := logStderr(stderr)

	if err := cmd.Wait(); err != nil {
		slog.Error("ffmpeg muxer failed",
			slog.String("output", outputPath),
			slog.Any("err", err),
		)
		return fmt.Errorf("%w: %w: %s", ErrMux, err, strings.Join(tail, " | "))
	}

	slog.Info("ffmpeg muxer completed", slog.String("output", outputPath))
	return nil
}

// logStderr drains r, logging every progress line, and returns the last
// lines written.
func logStderr(r io.Reader) []string {
	reader := bufio.NewReader(r)
	tail := make([]string, 0, stderrTail)

	for {
		part, err := reader.ReadString('\r')

		for _, l := range strings.Split(part, "\n") {
			l = strings.TrimRight(l, "\r\n ")
			if l == "" {
				continue
			}
			slog.Debug("ffmpeg muxer", slog.String("log", l))
			if len(tail) == stderrTail {
				tail = tail[1:]
			}
			tail = append(tail, l)
		}

		if err != nil {
			break
		}
	}

	return tail
}
