package viewers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/philipch07/cuetrack/internal/clock"
)

func request(method, remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, "/api/status", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestTrackRequest_ExpiresAfterTTL(t *testing.T) {
	fake := clock.NewFake(time.Unix(1_700_000_000, 0))
	tr := New(Config{Clock: fake, PollTTL: 10 * time.Second})

	tr.TrackRequest(ProtocolPoll, request(http.MethodGet, "10.0.0.1:5000", nil))
	tr.TrackRequest(ProtocolPoll, request(http.MethodGet, "10.0.0.1:6000", nil))
	tr.TrackRequest(ProtocolPoll, request(http.MethodGet, "10.0.0.2:5000", nil))
	tr.TrackRequest(ProtocolPoll, request(http.MethodPost, "10.0.0.3:5000", nil))

	assert.Equal(t, 2, tr.Counts().Poll)

	fake.Advance(10 * time.Second)
	assert.Equal(t, 2, tr.Counts().Poll)

	fake.Advance(time.Second)
	assert.Equal(t, 0, tr.Counts().Poll)
}

func TestTrackConnection_CountsWhileOpen(t *testing.T) {
	tr := New(Config{Clock: clock.NewFake(time.Unix(0, 0)), PollTTL: time.Minute})

	releaseA := tr.TrackConnection(ProtocolSSE, request(http.MethodGet, "10.0.0.1:1", nil))
	releaseB := tr.TrackConnection(ProtocolSSE, request(http.MethodGet, "10.0.0.1:2", nil))
	releaseWS := tr.TrackConnection(ProtocolWebSocket, request(http.MethodGet, "10.0.0.9:2", nil))

	assert.Equal(t, ProtocolCounts{SSE: 1, WebSocket: 1}, tr.Counts())

	releaseA()
	releaseA()
	assert.Equal(t, 1, tr.Counts().SSE, "second connection from the same client keeps it counted")

	releaseB()
	releaseWS()
	assert.Equal(t, ProtocolCounts{}, tr.Counts())
}

func TestTrackConnection_IgnoresNonGet(t *testing.T) {
	tr := New(Config{})
	release := tr.TrackConnection(ProtocolSSE, request(http.MethodPost, "10.0.0.1:1", nil))
	release()
	assert.Equal(t, 0, tr.Counts().SSE)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.10:4000", want: "192.0.2.10"},
		{name: "forwarded", remote: "10.0.0.1:1", headers: map[string]string{"Forwarded": `for=198.51.100.7;proto=https, for=10.0.0.2`}, want: "198.51.100.7"},
		{name: "forwarded ipv6", remote: "10.0.0.1:1", headers: map[string]string{"Forwarded": `For="[2001:db8::1]:4711"`}, want: "2001:db8::1"},
		{name: "x-forwarded-for", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"}, want: "203.0.113.5"},
		{name: "x-real-ip", remote: "10.0.0.1:1", headers: map[string]string{"X-Real-IP": " 203.0.113.6 "}, want: "203.0.113.6"},
		{name: "garbage header falls through", remote: "10.0.0.1:1", headers: map[string]string{"X-Forwarded-For": "unknown"}, want: "10.0.0.1"},
		{name: "nothing usable", remote: "pipe", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clientIP(request(http.MethodGet, tt.remote, tt.headers)))
		})
	}
}

func TestHashIP_Salted(t *testing.T) {
	plain := New(Config{})
	salted := New(Config{HashSalt: "pepper"})

	assert.Len(t, plain.hashIP("192.0.2.1"), 64)
	assert.NotEqual(t, plain.hashIP("192.0.2.1"), salted.hashIP("192.0.2.1"))
	assert.Equal(t, salted.hashIP("192.0.2.1"), salted.hashIP("192.0.2.1"))
	assert.Empty(t, plain.hashIP(""))
}

func TestTrack_IgnoresUnknownAddress(t *testing.T) {
	tr := New(Config{Clock: clock.NewFake(time.Unix(0, 0)), PollTTL: time.Minute})

	tr.TrackRequest(ProtocolPoll, request(http.MethodGet, "", nil))
	tr.TrackRequest(ProtocolPoll, request(http.MethodGet, "not-an-address", nil))
	release := tr.TrackConnection(ProtocolSSE, request(http.MethodGet, "pipe", map[string]string{"X-Forwarded-For": "unknown"}))
	defer release()

	assert.Equal(t, ProtocolCounts{}, tr.Counts())
}
