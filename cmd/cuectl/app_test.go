package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipch07/cuetrack/internal/api"
	"github.com/philipch07/cuetrack/internal/clock"
	"github.com/philipch07/cuetrack/internal/session"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	sess := session.New(ctx, session.Options{Clock: fake, Logger: zerolog.Nop(), EventHistory: 8})

	server := httptest.NewServer(api.New(api.Config{Session: sess, Logger: zerolog.Nop()}).Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-sess.Done()
	})
	return server
}

func runApp(t *testing.T, server *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"cuectl", "--server", server.URL}, args...))
	return out.String(), err
}

func TestAddAndStatus(t *testing.T) {
	server := newServer(t)

	out, err := runApp(t, server, "add", "1", "0:02", "3s")
	require.NoError(t, err)
	assert.Equal(t, "added 3 cue points, 3 total\n", out)

	out, err = runApp(t, server, "status", "--json")
	require.NoError(t, err)
	var st api.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, 3, st.CuePoints)

	out, err = runApp(t, server, "status")
	require.NoError(t, err)
	assert.Equal(t, "state: stopped  cues: 3\n", out)
}

func TestControl(t *testing.T) {
	server := newServer(t)
	_, err := runApp(t, server, "add", "1", "2", "3")
	require.NoError(t, err)

	out, err := runApp(t, server, "start")
	require.NoError(t, err)
	assert.Equal(t, "state: playing  position: 0.000s  cues: 3\n", out)

	out, err = runApp(t, server, "seek", "2.5")
	require.NoError(t, err)
	assert.Equal(t, "state: playing  position: 2.500s  cues: 3  last reported: 1\n", out)

	out, err = runApp(t, server, "pause")
	require.NoError(t, err)
	assert.Contains(t, out, "state: paused")
}

func TestLoad(t *testing.T) {
	server := newServer(t)
	path := filepath.Join(t.TempDir(), "show.txt")
	require.NoError(t, os.WriteFile(path, []byte("0:10 Intro\n0:20\n0:30 Outro\n"), 0o644))

	out, err := runApp(t, server, "load", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Intro")
	assert.Contains(t, out, "Outro")
	assert.Contains(t, out, "added 3 cue points, 3 total")
}

func TestMissingArguments(t *testing.T) {
	server := newServer(t)

	for _, cmd := range []string{"seek", "add", "load"} {
		_, err := runApp(t, server, cmd)
		assert.ErrorIs(t, err, errMissingArg, cmd)
	}
}

func TestServerErrorsSurface(t *testing.T) {
	server := newServer(t)
	_, err := runApp(t, server, "add", "5")
	require.NoError(t, err)

	_, err = runApp(t, server, "add", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestWatchReplay(t *testing.T) {
	server := newServer(t)
	_, err := runApp(t, server, "add", "1", "2", "3")
	require.NoError(t, err)
	_, err = runApp(t, server, "start")
	require.NoError(t, err)
	_, err = runApp(t, server, "seek", "2")
	require.NoError(t, err)

	out, err := runApp(t, server, "watch", "--replay", "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, "went_through [0 1] at 2.000s\n", out)
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/events/ws", (&client{base: "http://localhost:8080"}).websocketURL("/api/events/ws"))
	assert.Equal(t, "wss://cues.example.com/x", (&client{base: "https://cues.example.com"}).websocketURL("/x"))
}
