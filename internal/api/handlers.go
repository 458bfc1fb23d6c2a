package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/philipch07/cuetrack/internal/cue"
	"github.com/philipch07/cuetrack/internal/events"
	"github.com/philipch07/cuetrack/internal/session"
	"github.com/philipch07/cuetrack/internal/viewers"
)

const maxBodyBytes = 1 << 20

// SeekRequest is the body of POST /api/seek. To is in seconds.
type SeekRequest struct {
	To *float64 `json:"to"`
}

// Cues is the body of POST /api/cues and the response of GET /api/cues.
// Points are in seconds.
type Cues struct {
	Points []float64 `json:"points"`
}

type Listeners struct {
	viewers.ProtocolCounts
	WebRTC int `json:"webrtc"`
}

// Status is the response of GET /api/status and of the control endpoints.
type Status struct {
	SessionID               string    `json:"sessionId"`
	State                   string    `json:"state"`
	Position                *float64  `json:"position"`
	CuePoints               int       `json:"cuePoints"`
	LastReported            *int      `json:"lastReported"`
	MinNotificationInterval float64   `json:"minNotificationInterval"`
	Listeners               Listeners `json:"listeners"`
	DroppedClients          uint64    `json:"droppedClients"`
}

func (s *Server) startHandler(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		res.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Start(req.Context()); err != nil {
		s.sessionError(res, err)
		return
	}
	s.writeStatus(res, req)
}

func (s *Server) pauseHandler(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		res.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Pause(req.Context()); err != nil {
		s.sessionError(res, err)
		return
	}
	s.writeStatus(res, req)
}

func (s *Server) seekHandler(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		res.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body SeekRequest
	if err := decodeBody(req, &body); err != nil {
		s.logHTTPError(res, err.Error(), http.StatusBadRequest)
		return
	}
	if body.To == nil {
		s.logHTTPError(res, "missing \"to\"", http.StatusBadRequest)
		return
	}

	if err := s.session.Seek(req.Context(), events.Duration(*body.To)); err != nil {
		s.sessionError(res, err)
		return
	}
	s.writeStatus(res, req)
}

func (s *Server) cuesHandler(res http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
	case http.MethodPost:
		var body Cues
		if err := decodeBody(req, &body); err != nil {
			s.logHTTPError(res, err.Error(), http.StatusBadRequest)
			return
		}

		points := make([]time.Duration, len(body.Points))
		for i, p := range body.Points {
			points[i] = events.Duration(p)
		}

		err := s.session.Add(req.Context(), points...)
		switch {
		case errors.Is(err, cue.ErrNegativePoint), errors.Is(err, cue.ErrUnsortedPoints):
			s.logHTTPError(res, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			s.sessionError(res, err)
			return
		}
	default:
		res.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	points, err := s.session.Points(req.Context())
	if err != nil {
		s.sessionError(res, err)
		return
	}
	out := Cues{Points: make([]float64, len(points))}
	for i, p := range points {
		out.Points[i] = events.Seconds(p)
	}
	s.writeJSON(res, http.StatusOK, out)
}

func (s *Server) statusHandler(res http.ResponseWriter, req *http.Request) {
	if s.disableStatus {
		s.logHTTPError(res, "Status Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	s.viewers.TrackRequest(viewers.ProtocolPoll, req)
	s.writeStatus(res, req)
}

func (s *Server) writeStatus(res http.ResponseWriter, req *http.Request) {
	st, err := s.session.Status(req.Context())
	if err != nil {
		s.sessionError(res, err)
		return
	}
	s.writeJSON(res, http.StatusOK, s.buildStatus(st))
}

func (s *Server) buildStatus(st session.Status) Status {
	out := Status{
		SessionID:               st.ID,
		State:                   st.State.String(),
		CuePoints:               st.CuePoints,
		MinNotificationInterval: events.Seconds(st.MinNotificationInterval),
		Listeners:               Listeners{ProtocolCounts: s.viewers.Counts()},
		DroppedClients:          s.session.Events().DropCount(),
	}
	if st.HasPosition {
		pos := events.Seconds(st.Position)
		out.Position = &pos
	}
	if st.HasReported {
		last := st.LastReported
		out.LastReported = &last
	}
	if s.feed != nil {
		out.Listeners.WebRTC = s.feed.ListenerCount()
	}
	return out
}

func (s *Server) whepHandler(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		res.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.feed == nil {
		s.logHTTPError(res, "WebRTC is disabled", http.StatusServiceUnavailable)
		return
	}

	offer, err := io.ReadAll(http.MaxBytesReader(res, req.Body, maxBodyBytes))
	if err != nil {
		s.logHTTPError(res, err.Error(), http.StatusBadRequest)
		return
	}

	answer, _, err := s.feed.WHEP(string(offer))
	if err != nil {
		s.logHTTPError(res, err.Error(), http.StatusBadRequest)
		return
	}

	res.Header().Add("Location", "/api/whep")
	res.Header().Add("Content-Type", "application/sdp")
	res.WriteHeader(http.StatusCreated)
	if _, err = fmt.Fprint(res, answer); err != nil {
		s.logger.Debug().Err(err).Msg("write answer")
	}
}

func decodeBody(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
