// Package rtc relays WebRTC negotiation payloads between the UI and peers.
package rtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/huddle/internal/apperr"
	"github.com/mossy-p/huddle/internal/models"
)

// Signal is the transport-safe form of an offer, answer or ICE candidate.
type Signal struct {
	Type      models.SignalType          `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type rawSignal struct {
	Type      models.SignalType `json:"type"`
	SDP       json.RawMessage   `json:"sdp"`
	Candidate json.RawMessage   `json:"candidate"`
}

type rawSDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Normalize keeps only the fields the receiving peer needs: type, sdp.type
// and sdp.sdp for descriptions, and candidate, sdpMid, sdpMLineIndex and
// usernameFragment for ICE candidates. Any other shape is malformed.
func Normalize(raw json.RawMessage) (Signal, error) {
	var in rawSignal
	if err := json.Unmarshal(raw, &in); err != nil {
		return Signal{}, malformed("decode signal: %v", err)
	}

	switch in.Type {
	case models.SignalTypeOffer, models.SignalTypeAnswer:
		return normalizeDescription(in)
	case models.SignalTypeICECandidate:
		return normalizeCandidate(in)
	default:
		return Signal{}, malformed("unsupported signal type %q", in.Type)
	}
}

func normalizeDescription(in rawSignal) (Signal, error) {
	if isAbsent(in.SDP) {
		return Signal{}, malformed("%s without sdp", in.Type)
	}

	var desc rawSDP
	if err := json.Unmarshal(in.SDP, &desc); err != nil {
		return Signal{}, malformed("decode %s sdp: %v", in.Type, err)
	}

	// A provisional answer travels as an answer signal.
	sdpType := webrtc.NewSDPType(desc.Type)
	switch {
	case in.Type == models.SignalTypeOffer && sdpType == webrtc.SDPTypeOffer:
	case in.Type == models.SignalTypeAnswer && (sdpType == webrtc.SDPTypeAnswer || sdpType == webrtc.SDPTypePranswer):
	default:
		return Signal{}, malformed("%s with sdp type %q", in.Type, desc.Type)
	}
	if desc.SDP == "" {
		return Signal{}, malformed("%s with empty sdp", in.Type)
	}

	return Signal{
		Type: in.Type,
		SDP:  &webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP},
	}, nil
}

func normalizeCandidate(in rawSignal) (Signal, error) {
	if isAbsent(in.Candidate) {
		return Signal{}, malformed("ice-candidate without candidate")
	}

	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(in.Candidate, &cand); err != nil {
		return Signal{}, malformed("decode ice candidate: %v", err)
	}

	return Signal{
		Type: in.Type,
		Candidate: &webrtc.ICECandidateInit{
			Candidate:        cand.Candidate,
			SDPMid:           cand.SDPMid,
			SDPMLineIndex:    cand.SDPMLineIndex,
			UsernameFragment: cand.UsernameFragment,
		},
	}, nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrMalformedSignal, fmt.Sprintf(format, args...))
}
