package esp

import (
	"bytes"
	"strconv"

	"i4.energy/across/esplink/at"
)

// Kind tells how an exchange ended.
type Kind int

const (
	// NoResponse means the exchange ended before a response was read: the
	// driver was closed or the transport failed.
	NoResponse Kind = iota
	// Matched means a success token was seen.
	Matched
	// Failed means a failure token was seen.
	Failed
	// TimedOut means the deadline elapsed first.
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case NoResponse:
		return "no response"
	case Matched:
		return "matched"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Response is the result of one command exchange.
type Response struct {
	Kind Kind
	// Token is the terminal token seen, empty when TimedOut.
	Token string
	// Payload holds the response text between the command echo and the
	// terminal token, exclusive of both, without active report lines.
	Payload []byte
	// Notifications counts the +IPD notifications set aside while waiting.
	Notifications int
}

type scanState int

const (
	stateLine scanState = iota
	stateHeader
	stateData
)

// maxHeaderLen bounds "+IPD,<link>,<len>:".
const maxHeaderLen = 24

// scanner owns the bytes read from the transport that no exchange has
// consumed yet, and the queue of notification payloads waiting for
// CIPReceive.
//
// Solicited responses and +IPD notifications share one stream. The scanner
// walks the buffer one byte at a time: ordinary bytes go to the terminal
// token matcher, and a "+IPD," at a line start switches to collecting the
// announced number of raw bytes, which are then spliced out of the buffer
// so they can never be mistaken for a response.
//
// Per-exchange state is rebuilt by begin; every call rescans the carried
// buffer from its start, so bytes left behind by a timeout are never lost.
type scanner struct {
	buf     []byte
	pending [][]byte

	matcher   *at.Matcher
	pos       int
	lineStart int
	state     scanState
	noteStart int
	dataStart int
	dataLen   int
	notes     int
}

// begin starts a new pass over the buffer looking for tokens.
func (s *scanner) begin(tokens []at.Token) {
	s.matcher = at.NewMatcher(tokens...)
	s.pos = 0
	s.lineStart = 0
	s.state = stateLine
	s.notes = 0
}

func (s *scanner) feed(p []byte) {
	s.buf = append(s.buf, p...)
}

// advance processes the unread part of the buffer. It stops on the first
// terminal token and returns it with the buffer index just past it.
func (s *scanner) advance() (at.Token, int, bool) {
	for s.pos < len(s.buf) {
		b := s.buf[s.pos]

		switch s.state {
		case stateData:
			s.pos++
			if s.pos-s.dataStart == s.dataLen {
				s.complete()
			}
			continue

		case stateHeader:
			switch {
			case b == ':':
				s.pos++
				n, ok := parseIPDLength(s.buf[s.noteStart+len(at.IPD) : s.pos-1])
				if !ok {
					s.state = stateLine
					continue
				}
				s.dataStart = s.pos
				s.dataLen = n
				s.state = stateData
			case isHeaderByte(b) && s.pos-s.noteStart < maxHeaderLen:
				s.pos++
			default:
				// Not a notification after all; b is an ordinary byte.
				s.state = stateLine
			}
			continue
		}

		s.pos++
		if t, ok := s.matcher.Feed(b); ok {
			return t, s.pos, true
		}
		if b == '\n' {
			s.lineStart = s.pos
			continue
		}
		if s.pos-s.lineStart == len(at.IPD) && string(s.buf[s.lineStart:s.pos]) == at.IPD {
			s.noteStart = s.lineStart
			s.state = stateHeader
		}
	}
	return at.Token{}, 0, false
}

// complete moves a fully received notification to the pending queue.
func (s *scanner) complete() {
	s.pending = append(s.pending, bytes.Clone(s.buf[s.dataStart:s.pos]))
	s.notes++

	s.buf = append(s.buf[:s.noteStart], s.buf[s.pos:]...)
	s.pos = s.noteStart
	s.lineStart = s.noteStart
	s.state = stateLine
	s.matcher.Reset()
}

// consume removes the bytes up to end, which the current exchange owns.
func (s *scanner) consume(end int) []byte {
	owned := bytes.Clone(s.buf[:end])
	s.buf = append(s.buf[:0], s.buf[end:]...)
	return owned
}

// settle extracts complete notifications from the carried bytes and drops
// the complete lines left over from abandoned exchanges, so a late OK can
// not end the next command. A partial line, which may be the start of a
// notification, stays buffered.
func (s *scanner) settle() []byte {
	s.begin(nil)
	s.advance()
	if s.lineStart == 0 {
		return nil
	}
	return s.consume(s.lineStart)
}

// next pops the oldest pending notification payload.
func (s *scanner) next() ([]byte, bool) {
	if len(s.pending) == 0 {
		return nil, false
	}
	p := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return p, true
}

func isHeaderByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == ','
}

// parseIPDLength reads the length from the header fields after "+IPD,":
// "<len>" in single connection mode and "<link>,<len>" in multiple
// connection mode. Remote address fields (CIPDINFO=1) are not supported.
func parseIPDLength(fields []byte) (int, bool) {
	parts := bytes.Split(fields, []byte{','})
	var raw []byte
	switch len(parts) {
	case 1:
		raw = parts[0]
	case 2:
		raw = parts[1]
	default:
		return 0, false
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 1 || n > at.MaxNotificationLen {
		return 0, false
	}
	return n, true
}
