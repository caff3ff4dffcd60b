package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marcopiovanello/stein-dl/internal/bilibili"
)

var ErrNoStream = errors.New("video has no playable stream")

// VideoInfo holds the basic attributes of a video and the root stream id of
// its branch graph.
type VideoInfo struct {
	Ref         bilibili.VideoRef `json:"ref" yaml:"ref"`
	Title       string            `json:"title" yaml:"title"`
	Author      string            `json:"author" yaml:"author"`
	Description string            `json:"description" yaml:"description"`
	Cover       string            `json:"cover" yaml:"cover"`
	Duration    int64             `json:"duration" yaml:"duration"`
	Views       int64             `json:"views" yaml:"views"`
	Likes       int64             `json:"likes" yaml:"likes"`
	Replies     int64             `json:"replies" yaml:"replies"`
	CID         int64             `json:"cid" yaml:"cid"`
	Interactive bool              `json:"interactive" yaml:"interactive"`
}

type viewer interface {
	View(ctx context.Context, ref bilibili.VideoRef) (*bilibili.View, error)
}

type Fetcher struct {
	client viewer
}

func NewFetcher(client viewer) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves the video attributes. The returned ref carries both the bvid
// and the aid when the platform reports them.
func (f *Fetcher) Fetch(ctx context.Context, ref bilibili.VideoRef) (*VideoInfo, error) {
	slog.Info("retrieving metadata", slog.String("video", ref.String()))

	v, err := f.client.View(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata of %s: %w", ref, err)
	}

	cid := v.CID
	if cid == 0 && len(v.Pages) > 0 {
		cid = v.Pages[0].CID
	}
	if cid == 0 {
		return nil, fmt.Errorf("%s: %w", ref, ErrNoStream)
	}

	resolved := ref
	if v.BVID != "" {
		resolved.BVID = v.BVID
	}
	if v.AID != 0 {
		resolved.AID = v.AID
	}

	return &VideoInfo{
		Ref:         resolved,
		Title:       v.Title,
		Author:      v.Owner.Name,
		Description: v.Description,
		Cover:       v.Cover,
		Duration:    v.Duration,
		Views:       v.Stat.View,
		Likes:       v.Stat.Like,
		Replies:     v.Stat.Reply,
		CID:         cid,
		Interactive: v.Interactive(),
	}, nil
}
