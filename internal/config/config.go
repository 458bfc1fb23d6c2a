// Package config reads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultEnvFile                 = ".env"
	defaultHTTPAddress             = ":8080"
	defaultMinNotificationInterval = 500 * time.Millisecond
	defaultEventHistory            = 32
	defaultViewerTTLPoll           = 45 * time.Second
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	HTTPAddress string
	SSLCert     string
	SSLKey      string

	CueFile   string
	Autostart bool
	// StartAt is where an autostarted session begins playback.
	StartAt time.Duration

	MinNotificationInterval time.Duration
	EventHistory            int

	LogLevel  string
	LogFormat string

	DisableStatus bool
	DisableWebRTC bool

	ViewerTTLPoll  time.Duration
	ViewerHashSalt string

	WebRTC WebRTC
}

// WebRTC holds the ICE and debugging knobs for the data-channel feed.
type WebRTC struct {
	STUNServers              []string
	NetworkTypes             []string
	NAT1To1IPs               []string
	NATICECandidateType      string
	InterfaceFilter          string
	UDPMuxPort               int
	TCPMuxAddress            string
	TCPMuxForce              bool
	IncludeLoopbackCandidate bool
	AppendCandidate          string
	DebugPrintOffer          bool
	DebugPrintAnswer         bool
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var errs []error
	duration := func(name string, fallback time.Duration) time.Duration {
		d, err := parseDurationEnv(name, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	integer := func(name string, fallback int) int {
		n, err := parseIntEnv(name, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := Config{
		HTTPAddress: stringEnv("HTTP_ADDRESS", defaultHTTPAddress),
		SSLCert:     os.Getenv("SSL_CERT"),
		SSLKey:      os.Getenv("SSL_KEY"),

		CueFile:   os.Getenv("CUE_FILE"),
		Autostart: flagEnv("AUTOSTART"),
		StartAt:   duration("START_AT", 0),

		MinNotificationInterval: duration("MIN_NOTIFICATION_INTERVAL", defaultMinNotificationInterval),
		EventHistory:            integer("EVENT_HISTORY", defaultEventHistory),

		LogLevel:  stringEnv("LOG_LEVEL", "info"),
		LogFormat: stringEnv("LOG_FORMAT", "console"),

		DisableStatus: flagEnv("DISABLE_STATUS"),
		DisableWebRTC: flagEnv("DISABLE_WEBRTC"),

		ViewerTTLPoll:  duration("VIEWER_TTL_POLL", defaultViewerTTLPoll),
		ViewerHashSalt: os.Getenv("VIEWER_HASH_SALT"),

		WebRTC: WebRTC{
			STUNServers:              listEnv("STUN_SERVERS"),
			NetworkTypes:             listEnv("NETWORK_TYPES"),
			NAT1To1IPs:               listEnv("NAT_1_TO_1_IP"),
			NATICECandidateType:      stringEnv("NAT_ICE_CANDIDATE_TYPE", "host"),
			InterfaceFilter:          os.Getenv("INTERFACE_FILTER"),
			UDPMuxPort:               integer("UDP_MUX_PORT", 0),
			TCPMuxAddress:            os.Getenv("TCP_MUX_ADDRESS"),
			TCPMuxForce:              flagEnv("TCP_MUX_FORCE"),
			IncludeLoopbackCandidate: flagEnv("INCLUDE_LOOPBACK_CANDIDATE"),
			AppendCandidate:          os.Getenv("APPEND_CANDIDATE"),
			DebugPrintOffer:          flagEnv("DEBUG_PRINT_OFFER"),
			DebugPrintAnswer:         flagEnv("DEBUG_PRINT_ANSWER"),
		},
	}

	if cfg.MinNotificationInterval < 0 {
		errs = append(errs, fmt.Errorf("%w: MIN_NOTIFICATION_INTERVAL must not be negative", ErrInvalid))
	}
	if cfg.StartAt < 0 {
		errs = append(errs, fmt.Errorf("%w: START_AT must not be negative", ErrInvalid))
	}
	if cfg.EventHistory < 0 {
		errs = append(errs, fmt.Errorf("%w: EVENT_HISTORY must not be negative", ErrInvalid))
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: LOG_FORMAT %q", ErrInvalid, cfg.LogFormat))
	}
	switch cfg.WebRTC.NATICECandidateType {
	case "host", "srflx":
	default:
		errs = append(errs, fmt.Errorf("%w: NAT_ICE_CANDIDATE_TYPE %q", ErrInvalid, cfg.WebRTC.NATICECandidateType))
	}
	if (cfg.SSLCert == "") != (cfg.SSLKey == "") {
		errs = append(errs, fmt.Errorf("%w: SSL_CERT and SSL_KEY must be set together", ErrInvalid))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// TLS reports whether the server should terminate TLS itself.
func (c Config) TLS() bool {
	return c.SSLCert != "" && c.SSLKey != ""
}

func stringEnv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

// flagEnv treats any non-empty value as set.
func flagEnv(name string) bool {
	return os.Getenv(name) != ""
}

// listEnv splits a pipe-separated value.
func listEnv(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, "|") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseIntEnv(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q", ErrInvalid, name, raw)
	}
	return n, nil
}

// parseDurationEnv accepts Go duration syntax or bare seconds.
func parseDurationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return fallback, fmt.Errorf("%w: %s=%q", ErrInvalid, name, raw)
}
