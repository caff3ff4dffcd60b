package rpc

import (
	"net/rpc"

	"github.com/marcopiovanello/stein-dl/internal"
	"github.com/marcopiovanello/stein-dl/internal/kv"
)

type Service struct {
	registry *kv.Registry
	server   *rpc.Server
}

type Running []internal.Download
type Pending []string

type NoArgs struct{}

type ProgressArgs struct {
	Id string `json:"id"`
}

type Progress struct {
	Id       string          `json:"id"`
	Progress int             `json:"progress"`
	Status   internal.Status `json:"status"`
	Details  map[string]any  `json:"details"`
}

// Progress retrieves the progress of a download given its id.
func (s *Service) Progress(args ProgressArgs, progress *Progress) error {
	d, err := s.registry.Get(args.Id)
	if err != nil {
		return err
	}

	*progress = Progress{
		Id:       d.Id,
		Progress: d.Progress,
		Status:   d.Status,
		Details:  d.Details,
	}
	return nil
}

// Running retrieves every known download.
func (s *Service) Running(args NoArgs, running *Running) error {
	*running = s.registry.All()
	return nil
}

// Pending retrieves the ids of queued and running downloads.
func (s *Service) Pending(args NoArgs, pending *Pending) error {
	*pending = s.registry.Keys()
	return nil
}
