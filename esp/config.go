package esp

import (
	"log/slog"
	"time"
)

// Timeouts holds the response deadline of every operation. Joining an access
// point and opening a session take far longer than a status query, so each
// call site has its own value.
type Timeouts struct {
	Test    time.Duration
	Restart time.Duration
	Mode    time.Duration
	Join    time.Duration
	Connect time.Duration
	Status  time.Duration
	// Prompt bounds the wait for ">" after AT+CIPSEND.
	Prompt time.Duration
	// Send bounds the wait for SEND OK after the payload.
	Send time.Duration
	// ResetHold is how long HardRestart keeps the enable line low.
	ResetHold time.Duration
}

// DefaultTimeouts returns the deadlines used when a Config leaves them unset.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Test:    time.Second,
		Restart: 5 * time.Second,
		Mode:    3 * time.Second,
		Join:    20 * time.Second,
		Connect: 10 * time.Second,
		Status:  3 * time.Second,
		Prompt:  3 * time.Second,
		Send:    5 * time.Second,

		ResetHold: 100 * time.Millisecond,
	}
}

func (t *Timeouts) setDefaults() {
	d := DefaultTimeouts()
	for _, f := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&t.Test, d.Test},
		{&t.Restart, d.Restart},
		{&t.Mode, d.Mode},
		{&t.Join, d.Join},
		{&t.Connect, d.Connect},
		{&t.Status, d.Status},
		{&t.Prompt, d.Prompt},
		{&t.Send, d.Send},
		{&t.ResetHold, d.ResetHold},
	} {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
}

type Config struct {
	Dialer   Dialer
	Clock    Clock
	Line     Line
	Logger   *slog.Logger
	Timeouts Timeouts
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = NewSystemClock()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Timeouts.setDefaults()
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.Clock = c
	return b
}

// WithLine sets the enable line. Without it the driver uses the transport
// when it implements Line, and NopLine otherwise.
func (b *ConfigBuilder) WithLine(l Line) *ConfigBuilder {
	b.config.Line = l
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithTimeouts(t Timeouts) *ConfigBuilder {
	b.config.Timeouts = t
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
