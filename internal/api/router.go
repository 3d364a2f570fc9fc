package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.trace, s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{address}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/refresh", s.handleRefreshDevice)
				r.Get("/history", s.handleGetDeviceHistory)
			})
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Network networkHealth `json:"network"`
	Link    *linkHealth   `json:"link,omitempty"`
}

type networkHealth struct {
	FramesRx      uint64 `json:"frames_rx"`
	FramesTx      uint64 `json:"frames_tx"`
	Suppressed    uint64 `json:"suppressed"`
	WriteErrors   uint64 `json:"write_errors"`
	StreamSkipped uint64 `json:"stream_skipped"`
	StreamCleared uint64 `json:"stream_cleared"`
}

type linkHealth struct {
	Connected  bool   `json:"connected"`
	BytesRx    uint64 `json:"bytes_rx"`
	BytesTx    uint64 `json:"bytes_tx"`
	Connects   uint64 `json:"connects"`
	DialErrors uint64 `json:"dial_errors"`
}

// handleHealth returns the server health with line counters.
// Status is "degraded" while the line transport is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.devices.Stats()
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Network: networkHealth{
			FramesRx:      stats.FramesRx,
			FramesTx:      stats.FramesTx,
			Suppressed:    stats.Suppressed,
			WriteErrors:   stats.WriteErrors,
			StreamSkipped: stats.Stream.Skipped,
			StreamCleared: stats.Stream.Cleared,
		},
	}
	if s.link != nil {
		ls := s.link.Stats()
		resp.Link = &linkHealth{
			Connected:  ls.Connected,
			BytesRx:    ls.BytesRx,
			BytesTx:    ls.BytesTx,
			Connects:   ls.Connects,
			DialErrors: ls.DialErrors,
		}
		if !ls.Connected {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
