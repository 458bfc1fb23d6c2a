package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipch07/cuetrack/internal/clock"
	"github.com/philipch07/cuetrack/internal/cue"
	"github.com/philipch07/cuetrack/internal/events"
	"github.com/philipch07/cuetrack/internal/session"
)

type fakeFeed struct {
	offers    []string
	listeners int
	err       error
}

func (f *fakeFeed) WHEP(offer string) (string, string, error) {
	f.offers = append(f.offers, offer)
	if f.err != nil {
		return "", "", f.err
	}
	f.listeners++
	return "v=0 answer", "abc", nil
}

func (f *fakeFeed) ListenerCount() int { return f.listeners }

type harness struct {
	server  *httptest.Server
	session *session.Session
	clock   *clock.Fake
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	sess := session.New(ctx, session.Options{
		Clock:                   fake,
		Logger:                  zerolog.Nop(),
		MinNotificationInterval: cue.DefaultMinNotificationInterval,
		EventHistory:            8,
	})

	cfg := Config{Session: sess, Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}
	server := httptest.NewServer(New(cfg).Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-sess.Done()
	})
	return &harness{server: server, session: sess, clock: fake, cancel: cancel}
}

func (h *harness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func TestStatus_Stopped(t *testing.T) {
	h := newHarness(t, nil)

	res := h.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	st := decode[Status](t, res)
	assert.Equal(t, "stopped", st.State)
	assert.Nil(t, st.Position)
	assert.Nil(t, st.LastReported)
	assert.Equal(t, 0.5, st.MinNotificationInterval)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, 1, st.Listeners.Poll, "the poll itself is counted")
}

func TestStatus_Disabled(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.DisableStatus = true })

	res := h.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestCues(t *testing.T) {
	h := newHarness(t, nil)

	res := h.do(t, http.MethodPost, "/api/cues", `{"points": [1, 2.5, 4]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []float64{1, 2.5, 4}, decode[Cues](t, res).Points)

	res = h.do(t, http.MethodPost, "/api/cues", `{"points": [3]}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodPost, "/api/cues", `{"points": [-1]}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodPost, "/api/cues", `{"points": "nope"}`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = h.do(t, http.MethodGet, "/api/cues", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []float64{1, 2.5, 4}, decode[Cues](t, res).Points)

	res = h.do(t, http.MethodDelete, "/api/cues", "")
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestControl(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodPost, "/api/cues", `{"points": [1, 2, 3, 4, 5]}`)

	res := h.do(t, http.MethodPost, "/api/start", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	st := decode[Status](t, res)
	assert.Equal(t, "playing", st.State)
	require.NotNil(t, st.Position)
	assert.Equal(t, 0.0, *st.Position)

	res = h.do(t, http.MethodPost, "/api/seek", `{"to": 3.5}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	st = decode[Status](t, res)
	assert.Equal(t, 3.5, *st.Position)
	require.NotNil(t, st.LastReported)
	assert.Equal(t, 2, *st.LastReported)

	res = h.do(t, http.MethodPost, "/api/pause", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "paused", decode[Status](t, res).State)

	res = h.do(t, http.MethodPost, "/api/seek", `{"to": 99}`)
	assert.Equal(t, 5.0, *decode[Status](t, res).Position)
}

func TestSeek_HugeTargetClampsToLastPoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodPost, "/api/cues", `{"points": [1, 2, 3, 4, 5, 6, 7, 8, 9, 10]}`)
	h.do(t, http.MethodPost, "/api/start", "")

	st := decode[Status](t, h.do(t, http.MethodPost, "/api/seek", `{"to": 6}`))
	require.NotNil(t, st.LastReported)
	assert.Equal(t, 5, *st.LastReported)

	res := h.do(t, http.MethodPost, "/api/seek", `{"to": 1e12}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	st = decode[Status](t, res)
	require.NotNil(t, st.Position)
	assert.Equal(t, 10.0, *st.Position)
	require.NotNil(t, st.LastReported)
	assert.Equal(t, 9, *st.LastReported)

	snap := h.session.Events().Snapshot()
	for _, ev := range snap {
		assert.Equal(t, events.WentThrough, ev.Kind, "a clamped forward seek restores nothing")
	}

	res = h.do(t, http.MethodPost, "/api/seek", `{"to": -1e12}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 0.0, *decode[Status](t, res).Position)
}

func TestCues_HugePointIsAccepted(t *testing.T) {
	h := newHarness(t, nil)

	res := h.do(t, http.MethodPost, "/api/cues", `{"points": [1, 1e12]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	points := decode[Cues](t, res).Points
	require.Len(t, points, 2)
	assert.Greater(t, points[1], 9e9)
}

func TestSeek_BadRequests(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/seek", `{}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/seek", `{"to": "soon"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/seek", `{"to": 1, "extra": true}`).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodGet, "/api/seek", "").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodGet, "/api/start", "").StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, nil)

	res := h.do(t, http.MethodOptions, "/api/seek", "")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	body, _ := io.ReadAll(res.Body)
	assert.Empty(t, body)
}

func TestSessionClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.cancel()
	<-h.session.Done()

	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodPost, "/api/start", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/api/status", "").StatusCode)
}

func TestWHEP(t *testing.T) {
	feed := &fakeFeed{}
	h := newHarness(t, func(cfg *Config) { cfg.Feed = feed })

	res := h.do(t, http.MethodPost, "/api/whep", "v=0 offer")
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "/api/whep", res.Header.Get("Location"))
	assert.Equal(t, "application/sdp", res.Header.Get("Content-Type"))
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, "v=0 answer", string(body))
	assert.Equal(t, []string{"v=0 offer"}, feed.offers)

	st := decode[Status](t, h.do(t, http.MethodGet, "/api/status", ""))
	assert.Equal(t, 1, st.Listeners.WebRTC)

	feed.err = io.ErrUnexpectedEOF
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/whep", "x").StatusCode)
}

func TestWHEP_Disabled(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodPost, "/api/whep", "v=0").StatusCode)
}

func TestEvents_SSEReplay(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodPost, "/api/cues", `{"points": [1, 2, 3]}`)
	h.do(t, http.MethodPost, "/api/start", "")
	h.do(t, http.MethodPost, "/api/seek", `{"to": 2}`)
	h.do(t, http.MethodPost, "/api/seek", `{"to": 1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/api/events?replay=1", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	reader := bufio.NewReader(res.Body)
	readEvent := func() (string, events.Event) {
		var (
			name string
			ev   events.Event
		)
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			case line == "":
				return name, ev
			}
		}
	}

	name, ev := readEvent()
	assert.Equal(t, "went_through", name)
	assert.Equal(t, []int{0, 1}, ev.Indices)

	name, ev = readEvent()
	assert.Equal(t, "restored", name)
	assert.Equal(t, []int{1}, ev.Indices)
	assert.Equal(t, 1.0, ev.Position)
}

func TestEvents_WebSocket(t *testing.T) {
	h := newHarness(t, nil)
	h.do(t, http.MethodPost, "/api/cues", `{"points": [1, 2, 3]}`)
	h.do(t, http.MethodPost, "/api/start", "")
	h.do(t, http.MethodPost, "/api/seek", `{"to": 1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/events/ws?replay=1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	var ev events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, events.WentThrough, ev.Kind)
	assert.Equal(t, []int{0}, ev.Indices)

	require.Eventually(t, func() bool {
		return decode[Status](t, h.do(t, http.MethodGet, "/api/status", "")).Listeners.WebSocket == 1
	}, 2*time.Second, 20*time.Millisecond)

	h.do(t, http.MethodPost, "/api/seek", `{"to": 0}`)
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, events.Restored, ev.Kind)
	assert.Equal(t, []int{0}, ev.Indices)
}
