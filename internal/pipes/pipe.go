package pipes

import (
	"context"
	"errors"
)

var (
	ErrMux     = errors.New("muxing failed")
	ErrStorage = errors.New("storage failure")
)

// Muxer combines separately downloaded video and audio tracks into one
// container file.
type Muxer interface {
	Name() string
	Mux(ctx context.Context, videoPath, audioPath, outputPath string) error
}
