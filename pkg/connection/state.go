package connection

import (
	"github.com/glas/wqconnect/internal/device"
)

// State is the externally visible connection state.
type State int

const (
	Disconnected State = iota
	Scanning
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MarshalText renders the state the same way String does.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// linkState is the slot state, tracked apart from discovery because a scan
// may run while a peer is connected.
type linkState int

const (
	linkDown linkState = iota
	linkConnecting
	linkUp
)

// Status is a consistent view of the manager.
type Status struct {
	State State `json:"state"`
	// Peer is the device holding the slot; zero when the slot is free.
	Peer device.Peer `json:"peer"`
	// Adopted is set when Peer was connected outside this process and was
	// picked up by RefreshCurrent. No telemetry flows from an adopted peer.
	Adopted bool `json:"adopted"`
	// Listening is set while notifications are routed into the store.
	Listening bool `json:"listening"`
	Scanning  bool `json:"scanning"`
}

func newStatus(link linkState, peer device.Peer, adopted, listening, scanning bool) Status {
	st := Status{Peer: peer, Adopted: adopted, Listening: listening, Scanning: scanning}
	switch {
	case link == linkUp:
		st.State = Connected
	case link == linkConnecting:
		st.State = Connecting
	case scanning:
		st.State = Scanning
	default:
		st.State = Disconnected
	}
	if link == linkDown {
		st.Peer = device.Peer{}
	}
	return st
}
