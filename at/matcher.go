package at

// Token is a terminal sequence the Matcher looks for.
type Token struct {
	// Text is the token as the module prints it ("OK", "SEND OK", ">").
	Text string
	// Failure marks tokens that end an exchange unsuccessfully.
	Failure bool
	// Bare tokens are not followed by CRLF (the CIPSEND prompt).
	Bare bool
}

// Wire returns the bytes that end a response with this token.
func (t Token) Wire() string {
	if t.Bare {
		return t.Text
	}
	return t.Text + CRLF
}

// Success returns line-terminated success tokens.
func Success(texts ...string) []Token {
	tokens := make([]Token, 0, len(texts))
	for _, text := range texts {
		tokens = append(tokens, Token{Text: text})
	}
	return tokens
}

// Failure returns line-terminated failure tokens.
func Failure(texts ...string) []Token {
	tokens := make([]Token, 0, len(texts))
	for _, text := range texts {
		tokens = append(tokens, Token{Text: text, Failure: true})
	}
	return tokens
}

// Matcher recognizes terminal tokens in a byte stream fed one byte at a time.
// It only keeps a window of the last bytes seen, so a token whose bytes arrive
// in separate reads is still found, while a prefix of a token never matches.
//
// A token only matches at the start of a line: the byte before it must be a
// line feed, or the token must be the first thing fed since the last Reset.
// This keeps an echoed command such as AT+CWJAP="OK","..." from being taken
// for a final result.
type Matcher struct {
	tokens []Token
	window []byte
	seen   int
}

// NewMatcher creates a Matcher for the given tokens. Tokens are checked in
// order, so when two tokens end on the same byte the first one listed wins.
func NewMatcher(tokens ...Token) *Matcher {
	size := 0
	for _, t := range tokens {
		if n := len(t.Wire()); n > size {
			size = n
		}
	}
	return &Matcher{
		tokens: tokens,
		window: make([]byte, 0, size+1),
	}
}

// Reset forgets every byte fed so far. The next byte is at a line start.
func (m *Matcher) Reset() {
	m.window = m.window[:0]
	m.seen = 0
}

// Feed adds one byte and reports the token that ends on it, if any.
func (m *Matcher) Feed(b byte) (Token, bool) {
	if len(m.window) == cap(m.window) {
		copy(m.window, m.window[1:])
		m.window = m.window[:len(m.window)-1]
	}
	m.window = append(m.window, b)
	m.seen++

	for _, t := range m.tokens {
		p := t.Wire()
		n := len(p)
		if len(m.window) < n || string(m.window[len(m.window)-n:]) != p {
			continue
		}
		if m.seen == n || (len(m.window) > n && m.window[len(m.window)-n-1] == '\n') {
			return t, true
		}
	}
	return Token{}, false
}
