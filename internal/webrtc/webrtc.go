// Package webrtc pushes cue events to browsers over a WebRTC data channel.
// Listeners negotiate WHEP style: they POST an SDP offer carrying a data
// channel labelled "cues" and receive the answer in the response.
package webrtc

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/pion/dtls/v3/pkg/crypto/elliptic"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/philipch07/cuetrack/internal/config"
	"github.com/philipch07/cuetrack/internal/events"
)

// Source is where the feed takes its events from.
type Source interface {
	AddClient() *events.Client
	RemoveClient(c *events.Client)
	Snapshot() []events.Event
}

type Feed struct {
	api    *webrtc.API
	cfg    config.WebRTC
	source Source
	logger zerolog.Logger

	// debugOut receives offers and answers when the debug flags are set.
	debugOut io.Writer

	sessionsLock sync.RWMutex
	sessions     map[string]*listener

	tcpListener net.Listener
	udpMux      *ice.MultiUDPMuxDefault
}

// Configure builds the pion API from cfg. The returned Feed owns any mux
// sockets it opened; release them with Close.
func Configure(cfg config.WebRTC, source Source, logger zerolog.Logger) (*Feed, error) {
	f := &Feed{
		cfg:      cfg,
		source:   source,
		logger:   logger.With().Str("component", "webrtc").Logger(),
		debugOut: os.Stdout,
		sessions: map[string]*listener{},
	}

	settingEngine, err := f.createSettingEngine()
	if err != nil {
		f.closeMuxes()
		return nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		f.closeMuxes()
		return nil, err
	}

	f.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return f, nil
}

func (f *Feed) createSettingEngine() (settingEngine webrtc.SettingEngine, err error) {
	var (
		networkTypes []webrtc.NetworkType
		udpMuxOpts   []ice.UDPMuxFromPortOption
	)

	if len(f.cfg.NetworkTypes) != 0 {
		for _, networkTypeStr := range f.cfg.NetworkTypes {
			networkType, err := webrtc.NewNetworkType(networkTypeStr)
			if err != nil {
				return settingEngine, err
			}
			networkTypes = append(networkTypes, networkType)
		}
	} else {
		networkTypes = append(networkTypes, webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6)
	}

	natICECandidateType := webrtc.ICECandidateTypeHost
	if f.cfg.NATICECandidateType == "srflx" {
		natICECandidateType = webrtc.ICECandidateTypeSrflx
	}

	if len(f.cfg.NAT1To1IPs) != 0 {
		mode := webrtc.ICEAddressRewriteReplace
		if natICECandidateType == webrtc.ICECandidateTypeSrflx {
			mode = webrtc.ICEAddressRewriteAppend
		}

		if err := settingEngine.SetICEAddressRewriteRules(webrtc.ICEAddressRewriteRule{
			External:        f.cfg.NAT1To1IPs,
			AsCandidateType: natICECandidateType,
			Mode:            mode,
		}); err != nil {
			return settingEngine, err
		}
	}

	if f.cfg.InterfaceFilter != "" {
		interfaceFilter := func(i string) bool {
			return i == f.cfg.InterfaceFilter
		}

		settingEngine.SetInterfaceFilter(interfaceFilter)
		udpMuxOpts = append(udpMuxOpts, ice.UDPMuxFromPortWithInterfaceFilter(interfaceFilter))
	}

	if f.cfg.UDPMuxPort != 0 {
		udpMux, err := ice.NewMultiUDPMuxFromPort(f.cfg.UDPMuxPort, udpMuxOpts...)
		if err != nil {
			return settingEngine, fmt.Errorf("udp mux on port %d: %w", f.cfg.UDPMuxPort, err)
		}
		f.udpMux = udpMux
		settingEngine.SetICEUDPMux(udpMux)
	}

	if f.cfg.TCPMuxAddress != "" {
		tcpAddr, err := net.ResolveTCPAddr("tcp", f.cfg.TCPMuxAddress)
		if err != nil {
			return settingEngine, err
		}

		tcpListener, err := net.ListenTCP("tcp", tcpAddr)
		if err != nil {
			return settingEngine, err
		}
		f.tcpListener = tcpListener

		settingEngine.SetICETCPMux(webrtc.NewICETCPMux(nil, tcpListener, 8))

		if f.cfg.TCPMuxForce {
			networkTypes = []webrtc.NetworkType{webrtc.NetworkTypeTCP4, webrtc.NetworkTypeTCP6}
		} else {
			networkTypes = append(networkTypes, webrtc.NetworkTypeTCP4, webrtc.NetworkTypeTCP6)
		}
	}

	settingEngine.SetDTLSEllipticCurves(elliptic.X25519, elliptic.P384, elliptic.P256)
	settingEngine.SetNetworkTypes(networkTypes)
	settingEngine.SetIncludeLoopbackCandidate(f.cfg.IncludeLoopbackCandidate)

	return settingEngine, nil
}

func (f *Feed) newPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}

	for _, stunServer := range f.cfg.STUNServers {
		if !strings.HasPrefix(stunServer, "stun:") {
			stunServer = "stun:" + stunServer
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs: []string{stunServer},
		})
	}

	return f.api.NewPeerConnection(cfg)
}

func (f *Feed) appendAnswer(in string) string {
	if extraCandidate := f.cfg.AppendCandidate; extraCandidate != "" {
		index := strings.Index(in, "a=end-of-candidates")
		if index >= 0 {
			in = in[:index] + extraCandidate + in[index:]
		}
	}

	return in
}

func (f *Feed) maybePrintOfferAnswer(sdp string, isOffer bool) string {
	if f.cfg.DebugPrintOffer && isOffer {
		_, _ = fmt.Fprintln(f.debugOut, sdp)
	}

	if f.cfg.DebugPrintAnswer && !isOffer {
		_, _ = fmt.Fprintln(f.debugOut, sdp)
	}

	return sdp
}

// ListenerCount returns the number of negotiated listeners.
func (f *Feed) ListenerCount() int {
	f.sessionsLock.RLock()
	defer f.sessionsLock.RUnlock()
	return len(f.sessions)
}

// Close hangs up every listener and releases mux sockets.
func (f *Feed) Close() error {
	f.sessionsLock.Lock()
	sessions := f.sessions
	f.sessions = map[string]*listener{}
	f.sessionsLock.Unlock()

	for _, l := range sessions {
		l.close()
	}
	return f.closeMuxes()
}

func (f *Feed) closeMuxes() error {
	var err error
	if f.udpMux != nil {
		err = f.udpMux.Close()
	}
	if f.tcpListener != nil {
		if cerr := f.tcpListener.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
