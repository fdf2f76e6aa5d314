package esp

import (
	"fmt"
	"strings"

	"i4.energy/across/esplink/at"
)

// State is the connectivity state reported by AT+CIPSTATUS. The module is
// the source of truth: a State is decoded fresh on every query and never
// cached by the driver.
type State int

const (
	StateUninitialized State = iota
	StateWifiConnected
	StateWifiDisconnected
	StateWifiConnectFailed
	StateServerConnected
	StateServerDisconnected
)

var stateNames = map[State]string{
	StateUninitialized:      "Uninitialized",
	StateWifiConnected:      "WifiConnected",
	StateWifiDisconnected:   "WifiDisconnected",
	StateWifiConnectFailed:  "WifiConnectFailed",
	StateServerConnected:    "ServerConnected",
	StateServerDisconnected: "ServerDisconnected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// statusCodes maps every status value the firmware prints after "STATUS:".
var statusCodes = map[string]State{
	"0": StateUninitialized,
	"1": StateWifiDisconnected,
	"2": StateWifiConnected,
	"3": StateServerConnected,
	"4": StateServerDisconnected,
	"5": StateWifiConnectFailed,
}

// ParseStatus decodes the payload of an AT+CIPSTATUS response. Connection
// detail lines (+CIPSTATUS:...) are ignored. A missing STATUS line or an
// unknown value is an ErrDecode, never a default state.
func ParseStatus(payload []byte) (State, error) {
	for _, line := range at.Lines(payload) {
		value, ok := strings.CutPrefix(line, at.StatusPrefix)
		if !ok {
			continue
		}
		state, ok := statusCodes[strings.TrimSpace(value)]
		if !ok {
			return StateUninitialized, fmt.Errorf("%w: unknown status %q", ErrDecode, value)
		}
		return state, nil
	}
	return StateUninitialized, fmt.Errorf("%w: no %s line in %q", ErrDecode, at.StatusPrefix, payload)
}

// parseJoinReason extracts the +CWJAP:<code> reason printed before FAIL.
func parseJoinReason(payload []byte) JoinReason {
	for _, line := range at.Lines(payload) {
		value, ok := strings.CutPrefix(line, at.JoinAPPrefix)
		if !ok {
			continue
		}
		switch strings.TrimSpace(value) {
		case "1":
			return JoinTimeout
		case "2":
			return JoinWrongPassword
		case "3":
			return JoinNoAP
		case "4":
			return JoinFailed
		}
	}
	return JoinUnknown
}
