package rest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/discovery"
	"github.com/marcopiovanello/stein-dl/internal/downloaders"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"github.com/marcopiovanello/stein-dl/internal/metadata"
	"github.com/marcopiovanello/stein-dl/server/archiver"
)

var ErrMetadata = errors.New("failed to fetch video information")

type Service struct {
	fetcher  MetadataFetcher
	engine   Discoverer
	pipeline *downloaders.Pipeline
	registry *kv.Registry
	archiver *archiver.Archiver
}

func NewService(args *ContainerArgs) *Service {
	return &Service{
		fetcher:  args.Fetcher,
		engine:   args.Engine,
		pipeline: args.Pipeline,
		registry: args.Registry,
		archiver: args.Archiver,
	}
}

type VideoInfo struct {
	Title       string            `json:"title"`
	Author      string            `json:"author"`
	Description string            `json:"description"`
	Cover       string            `json:"cover"`
	Duration    string            `json:"duration"`
	View        string            `json:"view"`
	Like        string            `json:"like"`
	Reply       string            `json:"reply"`
	BVID        string            `json:"bvid"`
	AID         int64             `json:"aid"`
	CID         int64             `json:"cid"`
	IsSteinGate bool              `json:"is_stein_gate"`
	Branches    []internal.Branch `json:"branches,omitempty"`
}

type ParseResult struct {
	VideoInfo          VideoInfo         `json:"videoInfo"`
	IsInteractiveVideo bool              `json:"isInteractiveVideo"`
	Branches           []internal.Branch `json:"branches"`
	BranchCount        int               `json:"branchCount"`
	Discovery          discovery.Summary `json:"discovery"`
}

// Parse identifies the video, fetches its metadata and, for interactive
// videos, discovers the reachable branches.
func (s *Service) Parse(ctx context.Context, rawURL string) (*ParseResult, error) {
	ref, err := bilibili.Identify(rawURL)
	if err != nil {
		return nil, err
	}

	info, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, errors.Join(ErrMetadata, err)
	}

	branches := []internal.Branch{}
	if info.Interactive {
		branches = s.engine.Discover(ctx, info.Ref, info.CID)
	}

	return &ParseResult{
		VideoInfo:          newVideoInfo(info, branches),
		IsInteractiveVideo: info.Interactive,
		Branches:           branches,
		BranchCount:        len(branches),
		Discovery:          discovery.Summarize(branches),
	}, nil
}

type DownloadRequest struct {
	VideoInfo  VideoInfo         `json:"videoInfo"`
	Quality    int               `json:"quality"`
	Branches   []string          `json:"branches"`
	BranchList []internal.Branch `json:"branchList"`
	Options    internal.Options  `json:"options"`
}

type DownloadResult struct {
	Downloads []downloaders.Handle `json:"downloads"`
}

func (s *Service) Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error) {
	ref := bilibili.VideoRef{BVID: req.VideoInfo.BVID, AID: req.VideoInfo.AID}

	catalogue := req.BranchList
	if len(catalogue) == 0 {
		catalogue = req.VideoInfo.Branches
	}

	handles, err := s.pipeline.Start(ctx, downloaders.Request{
		Video:      ref,
		Title:      req.VideoInfo.Title,
		RootCID:    req.VideoInfo.CID,
		Quality:    req.Quality,
		Options:    req.Options,
		Selections: req.Branches,
		Branches:   catalogue,
	})
	if err != nil {
		return nil, err
	}

	return &DownloadResult{Downloads: handles}, nil
}

type Progress struct {
	Id       string          `json:"id"`
	Progress int             `json:"progress"`
	Status   internal.Status `json:"status"`
	Details  map[string]any  `json:"details"`
}

func (s *Service) Progress(ctx context.Context, id string) (*Progress, error) {
	d, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}

	return &Progress{
		Id:       d.Id,
		Progress: d.Progress,
		Status:   d.Status,
		Details:  d.Details,
	}, nil
}

func (s *Service) Running(ctx context.Context) ([]internal.Download, error) {
	select {
	case <-ctx.Done():
		return nil, context.Canceled
	default:
		return s.registry.All(), nil
	}
}

func (s *Service) History(ctx context.Context, limit int) ([]archiver.Entity, error) {
	if s.archiver == nil {
		return []archiver.Entity{}, nil
	}
	return s.archiver.List(ctx, limit)
}

func newVideoInfo(info *metadata.VideoInfo, branches []internal.Branch) VideoInfo {
	return VideoInfo{
		Title:       info.Title,
		Author:      info.Author,
		Description: info.Description,
		Cover:       info.Cover,
		Duration:    formatDuration(info.Duration),
		View:        humanize.Comma(info.Views),
		Like:        humanize.Comma(info.Likes),
		Reply:       humanize.Comma(info.Replies),
		BVID:        info.Ref.BVID,
		AID:         info.Ref.AID,
		CID:         info.CID,
		IsSteinGate: info.Interactive,
		Branches:    branches,
	}
}

// formatDuration renders seconds as m:ss, or h:mm:ss past one hour.
func formatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
