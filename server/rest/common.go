package rest

import (
	"context"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/bilibili"
	"github.com/marcopiovanello/stein-dl/internal/downloaders"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	"github.com/marcopiovanello/stein-dl/internal/metadata"
	"github.com/marcopiovanello/stein-dl/server/archiver"
	"github.com/marcopiovanello/stein-dl/server/status"
)

type MetadataFetcher interface {
	Fetch(ctx context.Context, ref bilibili.VideoRef) (*metadata.VideoInfo, error)
}

type Discoverer interface {
	Discover(ctx context.Context, ref bilibili.VideoRef, rootCid int64) []internal.Branch
}

type ContainerArgs struct {
	Fetcher  MetadataFetcher
	Engine   Discoverer
	Pipeline *downloaders.Pipeline
	Registry *kv.Registry
	// optional
	Archiver *archiver.Archiver
	Status   *status.Service
}
