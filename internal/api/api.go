// Package api exposes a session over HTTP: playback control, status, an
// event stream (Server-Sent Events or WebSocket) and WHEP negotiation for
// the WebRTC feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/philipch07/cuetrack/internal/events"
	"github.com/philipch07/cuetrack/internal/session"
	"github.com/philipch07/cuetrack/internal/viewers"
)

// Session is the playback session the API drives.
type Session interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, to time.Duration) error
	Add(ctx context.Context, points ...time.Duration) error
	Status(ctx context.Context) (session.Status, error)
	Points(ctx context.Context) ([]time.Duration, error)
	Events() *events.Broadcaster
}

// Feed negotiates WebRTC listeners.
type Feed interface {
	WHEP(offer string) (answer string, sessionID string, err error)
	ListenerCount() int
}

type Config struct {
	Session Session
	Viewers *viewers.Tracker
	// Feed may be nil when WebRTC is disabled.
	Feed          Feed
	DisableStatus bool
	Logger        zerolog.Logger
}

type Server struct {
	session       Session
	viewers       *viewers.Tracker
	feed          Feed
	disableStatus bool
	logger        zerolog.Logger
}

func New(cfg Config) *Server {
	v := cfg.Viewers
	if v == nil {
		v = viewers.New(viewers.Config{PollTTL: viewers.DefaultPollTTL})
	}
	return &Server{
		session:       cfg.Session,
		viewers:       v,
		feed:          cfg.Feed,
		disableStatus: cfg.DisableStatus,
		logger:        cfg.Logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/start", corsHandler(s.startHandler))
	mux.HandleFunc("/api/pause", corsHandler(s.pauseHandler))
	mux.HandleFunc("/api/seek", corsHandler(s.seekHandler))
	mux.HandleFunc("/api/cues", corsHandler(s.cuesHandler))
	mux.HandleFunc("/api/status", corsHandler(s.statusHandler))
	mux.HandleFunc("/api/events", corsHandler(s.sseHandler))
	mux.HandleFunc("/api/events/ws", corsHandler(s.websocketHandler))
	mux.HandleFunc("/api/whep", corsHandler(s.whepHandler))

	return mux
}

func corsHandler(next func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		res.Header().Set("Access-Control-Allow-Origin", "*")
		res.Header().Set("Access-Control-Allow-Methods", "*")
		res.Header().Set("Access-Control-Allow-Headers", "*")
		res.Header().Set("Access-Control-Expose-Headers", "*")

		if req.Method != http.MethodOptions {
			next(res, req)
		}
	}
}

func (s *Server) logHTTPError(w http.ResponseWriter, err string, code int) {
	s.logger.Warn().Int("status", code).Msg(err)
	http.Error(w, err, code)
}

// sessionError maps a session failure onto a response.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrClosed):
		s.logHTTPError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away.
	default:
		s.logHTTPError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}
