package at

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Frame is an encoded command together with the tokens that end its
// response.
type Frame struct {
	// Command is the exact byte sequence written to the module.
	Command []byte
	// Name identifies the command in logs and errors. Secrets are masked.
	Name string
	// Tokens lists the success and failure tokens of the response.
	Tokens []Token
}

// Line returns the command without its line terminator, as the module
// echoes it.
func (f Frame) Line() string {
	if !bytes.HasSuffix(f.Command, []byte(CRLF)) {
		return ""
	}
	return strings.TrimSuffix(string(f.Command), CRLF)
}

// Mode is the WiFi operating mode set with AT+CWMODE.
type Mode int

const (
	ModeStation   Mode = 1
	ModeSoftAP    Mode = 2
	ModeStationAP Mode = 3

	minMode = ModeStation
	maxMode = ModeStationAP
)

const (
	maxSSIDLen     = 32
	minPasswordLen = 8
	maxPasswordLen = 64
)

// Protocol is the transport protocol of an AT+CIPSTART session.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
	SSL Protocol = "SSL"
)

var (
	defaultTokens = append(Success(OK), Failure(ERROR)...)
	joinTokens    = append(Success(OK), Failure(FAIL, ERROR)...)
	startTokens   = append(Success(OK), Failure(ERROR, FAIL)...)
	restartTokens = append(Success(Ready), Failure(ERROR)...)
	promptTokens  = append([]Token{{Text: Prompt, Bare: true}}, Failure(ERROR)...)
	sendTokens    = append(Success(SendOK), Failure(SendFail, ERROR)...)
)

// Test encodes the AT liveness probe.
func Test() Frame {
	return command("AT", defaultTokens)
}

// Restart encodes the module soft reset. The response ends with "ready"
// once the firmware has booted again.
func Restart() Frame {
	return command("AT+RST", restartTokens)
}

// Status encodes the connection status query.
func Status() Frame {
	return command("AT+CIPSTATUS", defaultTokens)
}

// SetMode encodes AT+CWMODE.
func SetMode(mode Mode) (Frame, error) {
	if mode < minMode || mode > maxMode {
		return Frame{}, fmt.Errorf("%w: wifi mode %d out of range %d..%d", ErrEncoding, mode, minMode, maxMode)
	}
	return command("AT+CWMODE="+strconv.Itoa(int(mode)), defaultTokens), nil
}

// SetTransferMode encodes AT+CIPMODE (0 normal, 1 passthrough).
func SetTransferMode(mode int) (Frame, error) {
	if mode != 0 && mode != 1 {
		return Frame{}, fmt.Errorf("%w: transfer mode %d is not 0 or 1", ErrEncoding, mode)
	}
	return command("AT+CIPMODE="+strconv.Itoa(mode), defaultTokens), nil
}

// SetAutoConnect encodes AT+CWAUTOCONN.
func SetAutoConnect(enabled bool) Frame {
	if enabled {
		return command("AT+CWAUTOCONN=1", defaultTokens)
	}
	return command("AT+CWAUTOCONN=0", defaultTokens)
}

// JoinAP encodes AT+CWJAP. An empty password joins an open network.
func JoinAP(ssid, password string) (Frame, error) {
	if ssid == "" || len(ssid) > maxSSIDLen {
		return Frame{}, fmt.Errorf("%w: ssid length %d out of range 1..%d", ErrEncoding, len(ssid), maxSSIDLen)
	}
	if password != "" && (len(password) < minPasswordLen || len(password) > maxPasswordLen) {
		return Frame{}, fmt.Errorf("%w: password length %d out of range %d..%d", ErrEncoding, len(password), minPasswordLen, maxPasswordLen)
	}
	qSSID, err := Quote(ssid)
	if err != nil {
		return Frame{}, fmt.Errorf("ssid: %w", err)
	}
	qPassword, err := Quote(password)
	if err != nil {
		return Frame{}, fmt.Errorf("password: %w", err)
	}
	f, err := checked("AT+CWJAP="+qSSID+","+qPassword, joinTokens)
	if err != nil {
		return Frame{}, err
	}
	f.Name = "AT+CWJAP=" + qSSID + `,"***"`
	return f, nil
}

// Start encodes AT+CIPSTART for a single connection.
func Start(proto Protocol, host string, port int) (Frame, error) {
	switch proto {
	case TCP, UDP, SSL:
	default:
		return Frame{}, fmt.Errorf("%w: unknown protocol %q", ErrEncoding, string(proto))
	}
	if host == "" {
		return Frame{}, fmt.Errorf("%w: empty host", ErrEncoding)
	}
	if port < 1 || port > 65535 {
		return Frame{}, fmt.Errorf("%w: port %d out of range", ErrEncoding, port)
	}
	qHost, err := Quote(host)
	if err != nil {
		return Frame{}, fmt.Errorf("host: %w", err)
	}
	return checked(`AT+CIPSTART="`+string(proto)+`",`+qHost+","+strconv.Itoa(port), startTokens)
}

// SendLength encodes AT+CIPSEND announcing a payload of n bytes. The module
// answers with the ">" prompt and then reads exactly n raw bytes.
func SendLength(n int) (Frame, error) {
	if n < 1 || n > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: payload length %d out of range 1..%d", ErrEncoding, n, MaxPayloadLen)
	}
	return command("AT+CIPSEND="+strconv.Itoa(n), promptTokens), nil
}

// SendData wraps the raw payload written after the prompt.
func SendData(payload []byte) (Frame, error) {
	if len(payload) < 1 || len(payload) > MaxPayloadLen {
		return Frame{}, fmt.Errorf("%w: payload length %d out of range 1..%d", ErrEncoding, len(payload), MaxPayloadLen)
	}
	return Frame{Command: payload, Name: "<data>", Tokens: sendTokens}, nil
}

// ReadyFrame returns the frame used to wait for the boot banner after a hardware
// reset. It carries no command.
func ReadyFrame() Frame {
	return Frame{Name: "<boot>", Tokens: restartTokens}
}

// Quote renders s as an AT string parameter. Double quotes, commas and
// backslashes are escaped with a backslash; control characters are rejected.
func Quote(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c < 0x20 || c == 0x7f:
			return "", fmt.Errorf("%w: control character 0x%02x at offset %d", ErrEncoding, c, i)
		case c == '"', c == ',', c == '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String(), nil
}

func command(line string, tokens []Token) Frame {
	return Frame{Command: []byte(line + CRLF), Name: line, Tokens: tokens}
}

func checked(line string, tokens []Token) (Frame, error) {
	if n := len(line) + len(CRLF); n > MaxCommandLen {
		return Frame{}, fmt.Errorf("%w: command is %d bytes, limit %d", ErrEncoding, n, MaxCommandLen)
	}
	return command(line, tokens), nil
}
