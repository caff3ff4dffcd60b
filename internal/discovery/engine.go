package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
)

const (
	DefaultMaxDepth   = 10
	DefaultMaxVisited = 50
	DefaultStepDelay  = 100 * time.Millisecond

	pathSeparator = " → "
)

// Upstream is the subset of the platform client the traversal needs.
type Upstream interface {
	EdgeInfo(ctx context.Context, ref bilibili.VideoRef, cid int64) (*bilibili.EdgeInfo, error)
	NodeInfo(ctx context.Context, ref bilibili.VideoRef, cid int64) (*bilibili.NodeInfo, error)
	Story(ctx context.Context, ref bilibili.VideoRef) (*bilibili.Story, error)
}

type Config struct {
	MaxDepth   int
	MaxVisited int
	StepDelay  time.Duration
}

// Engine expands a root stream id into every reachable branch. An Engine holds
// no per-call state and can be shared.
type Engine struct {
	upstream Upstream
	cfg      Config
}

func NewEngine(upstream Upstream, cfg Config) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxVisited <= 0 {
		cfg.MaxVisited = DefaultMaxVisited
	}
	if cfg.StepDelay < 0 {
		cfg.StepDelay = 0
	}
	return &Engine{upstream: upstream, cfg: cfg}
}

type frontierEntry struct {
	cid   int64
	path  string
	depth int
}

// session is owned by a single Discover call.
type session struct {
	queue    []frontierEntry
	visited  map[int64]struct{}
	branches []internal.Branch
}

// Discover runs a breadth-first traversal seeded with the root stream id.
// Endpoint failures never abort it: they only reduce the result.
func (e *Engine) Discover(ctx context.Context, ref bilibili.VideoRef, rootCid int64) []internal.Branch {
	s := &session{
		visited: map[int64]struct{}{rootCid: {}},
		queue:   []frontierEntry{{cid: rootCid, path: rootPath, depth: 0}},
		branches: []internal.Branch{{
			Id:          fmt.Sprintf("main_%d", rootCid),
			CID:         rootCid,
			Title:       "Main storyline",
			Description: "The storyline played by default",
			Path:        rootPath,
			Depth:       0,
			IsMain:      true,
		}},
	}

	slog.Info("starting branch discovery",
		slog.String("video", ref.String()),
		slog.Int64("root_cid", rootCid),
	)

	storyQueried := false

	for {
		if len(s.queue) == 0 {
			if storyQueried {
				break
			}
			// the global story graph is consulted once, after the per-node
			// sources ran dry
			storyQueried = true
			s.offer(e.storyCandidates(ctx, ref), e.cfg)
			continue
		}

		if ctx.Err() != nil {
			slog.Warn("branch discovery interrupted",
				slog.String("video", ref.String()),
				slog.Any("err", ctx.Err()),
			)
			break
		}

		entry := s.queue[0]
		s.queue = s.queue[1:]

		if entry.depth >= e.cfg.MaxDepth || len(s.visited) >= e.cfg.MaxVisited {
			continue
		}

		slog.Debug("exploring node",
			slog.Int64("cid", entry.cid),
			slog.Int("depth", entry.depth),
			slog.String("path", entry.path),
		)

		s.offer(e.edgeCandidates(ctx, ref, entry), e.cfg)
		s.offer(e.nodeCandidates(ctx, ref, entry), e.cfg)

		if len(s.queue) > 0 && e.cfg.StepDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.StepDelay):
			}
		}
	}

	slog.Info("branch discovery finished",
		slog.String("video", ref.String()),
		slog.Int("branches", len(s.branches)),
		slog.Int("visited", len(s.visited)),
	)

	return s.branches
}

// offer applies first-discovery-wins: a candidate whose cid is already known is
// discarded, everything else is appended and queued for expansion.
func (s *session) offer(candidates []internal.Branch, cfg Config) {
	for _, c := range candidates {
		if _, seen := s.visited[c.CID]; seen {
			continue
		}
		if len(s.visited) >= cfg.MaxVisited {
			return
		}
		if c.Depth > cfg.MaxDepth {
			continue
		}

		s.visited[c.CID] = struct{}{}
		s.branches = append(s.branches, c)
		s.queue = append(s.queue, frontierEntry{cid: c.CID, path: c.Path, depth: c.Depth})
	}
}

func (e *Engine) edgeCandidates(ctx context.Context, ref bilibili.VideoRef, entry frontierEntry) []internal.Branch {
	edge, err := e.upstream.EdgeInfo(ctx, ref, entry.cid)
	if err != nil {
		slog.Warn("edge info unavailable",
			slog.Int64("cid", entry.cid),
			slog.Any("err", err),
		)
		return nil
	}
	return ProcessEdgeData(edge, entry.path, entry.depth)
}

func (e *Engine) nodeCandidates(ctx context.Context, ref bilibili.VideoRef, entry frontierEntry) []internal.Branch {
	node, err := e.upstream.NodeInfo(ctx, ref, entry.cid)
	if err != nil {
		slog.Warn("node info unavailable",
			slog.Int64("cid", entry.cid),
			slog.Any("err", err),
		)
		return nil
	}
	return processNodeData(node, entry.path, entry.depth)
}

func (e *Engine) storyCandidates(ctx context.Context, ref bilibili.VideoRef) []internal.Branch {
	story, err := e.upstream.Story(ctx, ref)
	if err != nil {
		slog.Warn("story graph unavailable",
			slog.String("video", ref.String()),
			slog.Any("err", err),
		)
		return nil
	}
	return processStoryData(story)
}

// Summary counts reported alongside a branch list.
type Summary struct {
	TotalBranches  int `json:"totalBranches" yaml:"total_branches"`
	MainBranches   int `json:"mainBranches" yaml:"main_branches"`
	HiddenBranches int `json:"hiddenBranches" yaml:"hidden_branches"`
	MaxDepth       int `json:"maxDepth" yaml:"max_depth"`
}

func Summarize(branches []internal.Branch) Summary {
	s := Summary{TotalBranches: len(branches)}
	for _, b := range branches {
		if b.IsHidden {
			s.HiddenBranches++
		} else {
			s.MainBranches++
		}
		s.MaxDepth = max(s.MaxDepth, b.Depth)
	}
	return s
}
