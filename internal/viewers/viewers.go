// Package viewers counts distinct listeners per protocol. Clients are
// identified by a salted hash of their IP, never by the address itself.
package viewers

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/philipch07/cuetrack/internal/clock"
)

type Protocol string

const (
	ProtocolPoll      Protocol = "poll"
	ProtocolSSE       Protocol = "sse"
	ProtocolWebSocket Protocol = "websocket"
)

type ProtocolCounts struct {
	Poll      int `json:"poll"`
	SSE       int `json:"sse"`
	WebSocket int `json:"websocket"`
}

const (
	DefaultPollTTL      = 45 * time.Second
	defaultCleanupEvery = 30 * time.Second
)

type Config struct {
	Clock clock.Clock
	// PollTTL is how long a status poller counts after its last request.
	PollTTL  time.Duration
	HashSalt string
}

type Tracker struct {
	clock        clock.Clock
	mu           sync.Mutex
	entries      map[Protocol]map[string]*viewerEntry
	ttl          map[Protocol]time.Duration
	lastCleanup  time.Time
	cleanupEvery time.Duration
	hashSalt     []byte
}

type viewerEntry struct {
	lastSeen time.Time
	active   int
}

func New(cfg Config) *Tracker {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{
		clock: c,
		entries: map[Protocol]map[string]*viewerEntry{
			ProtocolPoll:      {},
			ProtocolSSE:       {},
			ProtocolWebSocket: {},
		},
		// Streaming connections count while open only.
		ttl: map[Protocol]time.Duration{
			ProtocolPoll: cfg.PollTTL,
		},
		cleanupEvery: defaultCleanupEvery,
		hashSalt:     []byte(cfg.HashSalt),
	}
}

// TrackRequest records a GET or HEAD request from a polling client.
func (t *Tracker) TrackRequest(protocol Protocol, r *http.Request) {
	if r == nil {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return
	}
	hash := t.hashIP(clientIP(r))
	if hash == "" {
		return
	}

	now := t.clock.Now()
	t.mu.Lock()
	entry := t.getEntry(protocol, hash)
	entry.lastSeen = now
	t.maybeCleanupLocked(now)
	t.mu.Unlock()
}

// TrackConnection records an open streaming connection. The returned func
// must be called once the connection ends.
func (t *Tracker) TrackConnection(protocol Protocol, r *http.Request) func() {
	if r == nil || r.Method != http.MethodGet {
		return func() {}
	}
	hash := t.hashIP(clientIP(r))
	if hash == "" {
		return func() {}
	}

	now := t.clock.Now()
	t.mu.Lock()
	entry := t.getEntry(protocol, hash)
	entry.active++
	entry.lastSeen = now
	t.maybeCleanupLocked(now)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			now := t.clock.Now()
			t.mu.Lock()
			defer t.mu.Unlock()
			entry := t.entries[protocol][hash]
			if entry != nil {
				if entry.active > 0 {
					entry.active--
				}
				if entry.active <= 0 && t.ttl[protocol] <= 0 {
					delete(t.entries[protocol], hash)
				} else {
					entry.lastSeen = now
				}
			}
			t.maybeCleanupLocked(now)
		})
	}
}

func (t *Tracker) Counts() ProtocolCounts {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return ProtocolCounts{
		Poll:      t.countLocked(ProtocolPoll, now),
		SSE:       t.countLocked(ProtocolSSE, now),
		WebSocket: t.countLocked(ProtocolWebSocket, now),
	}
}

func (t *Tracker) countLocked(protocol Protocol, now time.Time) int {
	entries := t.entries[protocol]
	ttl := t.ttl[protocol]
	count := 0

	for hash, entry := range entries {
		if entry == nil {
			delete(entries, hash)
			continue
		}
		if entry.active > 0 {
			count++
			continue
		}
		if ttl <= 0 {
			delete(entries, hash)
			continue
		}
		if now.Sub(entry.lastSeen) <= ttl {
			count++
		} else {
			delete(entries, hash)
		}
	}

	return count
}

func (t *Tracker) getEntry(protocol Protocol, hash string) *viewerEntry {
	entries := t.entries[protocol]
	if entries == nil {
		entries = map[string]*viewerEntry{}
		t.entries[protocol] = entries
	}
	entry := entries[hash]
	if entry == nil {
		entry = &viewerEntry{}
		entries[hash] = entry
	}
	return entry
}

func (t *Tracker) maybeCleanupLocked(now time.Time) {
	if t.cleanupEvery <= 0 {
		return
	}
	if !t.lastCleanup.IsZero() && now.Sub(t.lastCleanup) < t.cleanupEvery {
		return
	}
	for protocol := range t.entries {
		t.countLocked(protocol, now)
	}
	t.lastCleanup = now
}

func (t *Tracker) hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	h := sha256.New()
	if len(t.hashSalt) > 0 {
		_, _ = h.Write(t.hashSalt)
	}
	_, _ = h.Write([]byte(ip))
	return hex.EncodeToString(h.Sum(nil))
}

// clientIP prefers Forwarded, then X-Forwarded-For, then X-Real-IP, then the
// socket address.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("Forwarded"); forwarded != "" {
		if ip := parseForwardedFor(forwarded); ip != "" {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := headerFirst(xff); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		if ip := normalizeIP(xr); ip != "" {
			return ip
		}
	}

	return normalizeIP(r.RemoteAddr)
}

// parseForwardedFor returns the for= address of the first RFC 7239 element.
func parseForwardedFor(value string) string {
	first, _, _ := strings.Cut(value, ",")
	for _, pair := range strings.Split(first, ";") {
		pair = strings.TrimSpace(pair)
		if len(pair) < 4 || !strings.EqualFold(pair[:4], "for=") {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(pair[4:]), "\"")
		if ip := normalizeIP(raw); ip != "" {
			return ip
		}
	}
	return ""
}

func headerFirst(value string) string {
	first, _, _ := strings.Cut(value, ",")
	return normalizeIP(first)
}

func normalizeIP(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	raw = strings.Trim(raw, "[]")
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	return ""
}
