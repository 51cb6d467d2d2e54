package session

import "fmt"

// Status is the closed set of chip lifecycle states.
//
// Happy path: QR|LOADING -> AUTHENTICATING -> SYNCING -> READY.
// DISCONNECTED and ERROR are reachable from any non-terminal state and are
// recovered only via an explicit Reconnect.
type Status int

const (
	StatusQR Status = iota
	StatusLoading
	StatusAuthenticating
	StatusSyncing
	StatusReady
	StatusDisconnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusQR:
		return "QR"
	case StatusLoading:
		return "LOADING"
	case StatusAuthenticating:
		return "AUTHENTICATING"
	case StatusSyncing:
		return "SYNCING"
	case StatusReady:
		return "READY"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Usable reports whether the chip can carry a send right now.
func (s Status) Usable() bool { return s == StatusReady }

// Connected reports whether the chip got past pairing. Reaching a connected
// status cancels the QR expiry timer.
func (s Status) Connected() bool {
	return s == StatusAuthenticating || s == StatusSyncing || s == StatusReady
}

// Broken reports a state recoverable only via Reconnect.
func (s Status) Broken() bool {
	return s == StatusDisconnected || s == StatusError
}

// canTransition encodes the per-session state machine. Same-state updates
// are allowed (drivers may re-announce); anything else not listed is invalid.
func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	// Failure states are reachable from anywhere but only left via Reconnect,
	// which resets rather than transitions.
	if to == StatusDisconnected || to == StatusError {
		return !from.Broken()
	}
	switch from {
	case StatusQR:
		return to == StatusLoading || to == StatusAuthenticating
	case StatusLoading:
		return to == StatusQR || to == StatusAuthenticating
	case StatusAuthenticating:
		// Some drivers have no sync phase.
		return to == StatusSyncing || to == StatusReady
	case StatusSyncing:
		return to == StatusReady
	case StatusReady, StatusDisconnected, StatusError:
		return false
	default:
		return false
	}
}
