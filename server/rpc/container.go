package rpc

import (
	"net/rpc"

	"github.com/go-chi/chi/v5"
	"github.com/marcopiovanello/stein-dl/internal/kv"
	middlewares "github.com/marcopiovanello/stein-dl/server/middleware"
)

// Dependency injection container.
func Container(registry *kv.Registry) (*Service, error) {
	s := &Service{registry: registry, server: rpc.NewServer()}

	if err := s.server.RegisterName("Service", s); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) ApplyRouter() func(chi.Router) {
	return func(r chi.Router) {
		r.Use(middlewares.ApplyAuthenticationByConfig)
		r.Get("/ws", s.WebSocket)
		r.Post("/http", s.Post)
	}
}
