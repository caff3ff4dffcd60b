package downloaders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"github.com/marcopiovanello/stein-dl/internal/pipes"
	"github.com/marcopiovanello/stein-dl/internal/queue"
)

// MainSelection selects the root branch of a video.
const MainSelection = "main"

const DefaultQuality = 80

var ErrInvalidRequest = errors.New("invalid download request")

// Request asks for one download per selected branch.
type Request struct {
	Video bilibili.VideoRef
	// Title of the video, used for the main branch.
	Title   string
	RootCID int64
	Quality int
	Options internal.Options

	// Branch ids to download, MainSelection for the root.
	Selections []string
	// Branches known for the video, usually the discovery result.
	Branches []internal.Branch
}

// Handle describes a started download.
type Handle struct {
	Id          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type PipelineConfig struct {
	DownloadDir string
	TempDir     string
}

type Pipeline struct {
	registry   *kv.Registry
	resolver   StreamResolver
	opener     StreamOpener
	muxer      pipes.Muxer
	dispatcher *queue.Dispatcher
	config     PipelineConfig
}

func NewPipeline(
	registry *kv.Registry,
	resolver StreamResolver,
	opener StreamOpener,
	muxer pipes.Muxer,
	dispatcher *queue.Dispatcher,
	config PipelineConfig,
) *Pipeline {
	return &Pipeline{
		registry:   registry,
		resolver:   resolver,
		opener:     opener,
		muxer:      muxer,
		dispatcher: dispatcher,
		config:     config,
	}
}

// Start registers one download per known selection and schedules them.
// Unknown selections are skipped.
func (p *Pipeline) Start(ctx context.Context, req Request) ([]Handle, error) {
	if req.Video.IsZero() {
		return nil, fmt.Errorf("%w: missing video id", ErrInvalidRequest)
	}
	if len(req.Selections) == 0 {
		return nil, fmt.Errorf("%w: no branch selected", ErrInvalidRequest)
	}

	for _, dir := range []string{p.config.DownloadDir, p.config.TempDir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("%w: %w", pipes.ErrStorage, err)
		}
	}

	quality := req.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	handles := []Handle{}

	for _, sel := range req.Selections {
		branch, ok := lookupBranch(req, sel)
		if !ok {
			slog.Warn("branch not found, skipping",
				slog.String("video", req.Video.String()),
				slog.String("selection", sel),
			)
			continue
		}

		id := p.registry.Register(internal.Download{
			Video:   req.Video,
			Branch:  branch,
			Quality: quality,
			Options: req.Options,
		})

		d, _ := p.registry.Get(id)

		bd := &BranchDownloader{
			Id:          id,
			Download:    d,
			resolver:    p.resolver,
			opener:      p.opener,
			muxer:       p.muxer,
			registry:    p.registry,
			downloadDir: p.config.DownloadDir,
			tempDir:     p.config.TempDir,
			progress:    &progressTracker{id: id, registry: p.registry},
		}

		p.dispatcher.Publish(queue.Task{
			Id: id,
			Run: func(ctx context.Context) {
				bd.Start(ctx)
			},
		})

		handles = append(handles, Handle{
			Id:          id,
			Title:       branch.Title,
			Description: branch.Description,
		})
	}

	return handles, nil
}

// Wait blocks until every scheduled download returned.
func (p *Pipeline) Wait() { p.dispatcher.Wait() }

func lookupBranch(req Request, sel string) (internal.Branch, bool) {
	if sel == MainSelection {
		for _, b := range req.Branches {
			if b.IsMain && b.Depth == 0 {
				b.Title = orDefault(req.Title, b.Title)
				return b, true
			}
		}
		if req.RootCID <= 0 {
			return internal.Branch{}, false
		}
		return internal.Branch{
			Id:          MainSelection,
			CID:         req.RootCID,
			Title:       orDefault(req.Title, "Main storyline"),
			Description: "Main video",
			Path:        "root",
			IsMain:      true,
		}, true
	}

	for _, b := range req.Branches {
		if b.Id == sel {
			return b, true
		}
	}

	return internal.Branch{}, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
