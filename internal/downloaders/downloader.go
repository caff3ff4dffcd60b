package downloaders

import (
	"context"
	"net/http"

	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/resolver"
)

// Downloader is one asynchronous download job.
type Downloader interface {
	Start(ctx context.Context) error
	GetId() string
}

// StreamResolver turns a branch into a playable stream descriptor.
type StreamResolver interface {
	Resolve(ctx context.Context, ref bilibili.VideoRef, cid int64, quality int) (*resolver.Descriptor, error)
}

// StreamOpener opens a media url for streaming.
type StreamOpener interface {
	Open(ctx context.Context, mediaURL string) (*http.Response, error)
}
