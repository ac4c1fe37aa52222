package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matijazezelj/arbor/pkg/models"
)

// RegisterRoutes registers all API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	for _, kind := range models.Kinds() {
		h, ok := s.kinds[kind]
		if !ok {
			continue
		}
		base := "/api/v1/" + string(kind)

		mux.HandleFunc("GET "+base+"/nodes", h.list)
		mux.HandleFunc("GET "+base+"/nodes/{id}", h.get)
		mux.HandleFunc("GET "+base+"/nodes/{id}/children", h.children)
		mux.HandleFunc("GET "+base+"/nodes/{id}/descendants", h.descendants)
		mux.HandleFunc("GET "+base+"/nodes/{id}/ancestors", h.ancestors)
		mux.HandleFunc("GET "+base+"/tree", h.tree)
		mux.HandleFunc("GET "+base+"/check", h.check)

		if s.readOnly {
			continue
		}
		mux.HandleFunc("POST "+base+"/nodes", h.create)
		mux.HandleFunc("PUT "+base+"/nodes/{id}", h.update)
		mux.HandleFunc("DELETE "+base+"/nodes/{id}", h.remove)
		if s.mirror != nil {
			mux.HandleFunc("POST "+base+"/sync", h.sync)
		}
	}
}
