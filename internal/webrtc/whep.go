package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/philipch07/cuetrack/internal/events"
)

// DataChannelLabel is the label listeners must give their data channel.
const DataChannelLabel = "cues"

var (
	ErrInvalidOffer  = errors.New("invalid SDP offer")
	ErrNoDataChannel = errors.New("offer has no application media section")
)

type listener struct {
	id        string
	pc        *webrtc.PeerConnection
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.pc.Close()
	})
}

// validateOffer checks that offer parses and negotiates SCTP data channels.
func validateOffer(offer string) error {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(offer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "application" {
			return nil
		}
	}
	return ErrNoDataChannel
}

// WHEP answers a listener's offer. The listener's "cues" data channel gets
// the retained events on open and every published event afterwards, one JSON
// object per text message.
func (f *Feed) WHEP(offer string) (string, string, error) {
	f.maybePrintOfferAnswer(offer, true)

	if err := validateOffer(offer); err != nil {
		return "", "", err
	}

	pc, err := f.newPeerConnection()
	if err != nil {
		return "", "", err
	}

	l := &listener{id: uuid.New().String(), pc: pc, done: make(chan struct{})}
	f.sessionsLock.Lock()
	f.sessions[l.id] = l
	f.sessionsLock.Unlock()
	cleanup := func() { f.listenerDisconnected(l.id) }

	logger := f.logger.With().Str("whep_session", l.id).Logger()

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug().Str("state", state.String()).Msg("ice connection state changed")
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			// pc.Close can report Closed from inside this handler.
			go cleanup()
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			logger.Debug().Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		dc.OnOpen(func() {
			go f.pump(l, dc)
		})
		dc.OnClose(func() { go cleanup() })
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		SDP:  offer,
		Type: webrtc.SDPTypeOffer,
	}); err != nil {
		cleanup()

		return "", "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	answer, err := pc.CreateAnswer(nil)

	if err != nil {
		cleanup()

		return "", "", err
	} else if err = pc.SetLocalDescription(answer); err != nil {
		cleanup()

		return "", "", err
	}

	<-gatherComplete

	logger.Info().Msg("listener connected")
	return f.maybePrintOfferAnswer(f.appendAnswer(pc.LocalDescription().SDP), false), l.id, nil
}

// listenerDisconnected is called when a listener's connection closes or fails.
func (f *Feed) listenerDisconnected(id string) {
	f.sessionsLock.Lock()
	l, ok := f.sessions[id]
	delete(f.sessions, id)
	f.sessionsLock.Unlock()

	if ok {
		l.close()
		f.logger.Info().Str("whep_session", id).Msg("listener disconnected")
	}
}

func (f *Feed) pump(l *listener, dc *webrtc.DataChannel) {
	client := f.source.AddClient()
	defer f.source.RemoveClient(client)

	send := func(ev events.Event) bool {
		raw, err := json.Marshal(ev)
		if err != nil {
			f.logger.Error().Err(err).Msg("encode event")
			return true
		}
		if err := dc.SendText(string(raw)); err != nil {
			f.logger.Debug().Err(err).Str("whep_session", l.id).Msg("data channel send failed")
			return false
		}
		return true
	}

	for _, ev := range f.source.Snapshot() {
		if !send(ev) {
			return
		}
	}

	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-client.C:
			if !ok {
				return
			}
			if !send(ev) {
				return
			}
		}
	}
}
