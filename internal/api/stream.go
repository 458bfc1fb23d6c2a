package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/philipch07/cuetrack/internal/events"
	"github.com/philipch07/cuetrack/internal/viewers"
)

func wantsReplay(req *http.Request) bool {
	switch req.URL.Query().Get("replay") {
	case "1", "true", "yes":
		return true
	}
	return false
}

// sseHandler streams events as Server-Sent Events. The event name is the
// event kind and the data is the JSON encoded event.
func (s *Server) sseHandler(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		res.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := res.(http.Flusher)
	if !ok {
		s.logHTTPError(res, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	release := s.viewers.TrackConnection(viewers.ProtocolSSE, req)
	defer release()

	broadcaster := s.session.Events()
	client := broadcaster.AddClient()
	defer broadcaster.RemoveClient(client)

	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	write := func(ev events.Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode event")
			return true
		}
		if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Kind, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if wantsReplay(req) {
		for _, ev := range broadcaster.Snapshot() {
			if !write(ev) {
				return
			}
		}
	}

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.C:
			if !ok {
				return
			}
			if !write(ev) {
				return
			}
		}
	}
}

// websocketHandler streams events as JSON text messages. Anything the client
// sends is ignored.
func (s *Server) websocketHandler(res http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(res, req, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket accept")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	release := s.viewers.TrackConnection(viewers.ProtocolWebSocket, req)
	defer release()

	broadcaster := s.session.Events()
	client := broadcaster.AddClient()
	defer broadcaster.RemoveClient(client)

	ctx := conn.CloseRead(req.Context())

	if wantsReplay(req) {
		for _, ev := range broadcaster.Snapshot() {
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.C:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
