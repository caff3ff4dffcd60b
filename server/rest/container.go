package rest

import (
	"github.com/go-chi/chi/v5"
	middlewares "github.com/marcopiovanello/stein-dl/server/middleware"
	"github.com/marcopiovanello/stein-dl/server/status"
)

func Container(args *ContainerArgs) *Handler {
	return ProvideHandler(ProvideService(args))
}

func ApplyRouter(args *ContainerArgs) func(chi.Router) {
	h := Container(args)

	return func(r chi.Router) {
		if args.Status != nil {
			r.Route("/health", status.ApplyRouter(args.Status))
		}
		r.Group(func(r chi.Router) {
			r.Use(middlewares.ApplyAuthenticationByConfig)
			h.routes(r)
		})
	}
}

func (h *Handler) routes(r chi.Router) {
	r.Post("/parse", h.Parse())
	r.Post("/download", h.Download())
	r.Get("/progress/{id}", h.Progress())
	r.Get("/downloads", h.Running())
	r.Get("/history", h.History())
}
