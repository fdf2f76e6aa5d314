package esp

//go:generate go tool mockgen -source=transport.go -destination=mock_esp.go -package=esp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to an
// ESP-AT module.
//
// Read must not block for longer than a short poll window: when no bytes are
// available it returns (0, nil) so the driver can check its deadline. Serial
// ports opened by SerialDialer behave that way through their read timeout;
// in-memory fakes used for testing simply return immediately.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a module.
//
// Dialer abstracts how the module connection is created (for example, via a
// serial port or a test double) and is intended to be used during driver
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// Clock is a monotonic tick counter used for deadline arithmetic only.
type Clock interface {
	// Now returns the time elapsed since an arbitrary, fixed origin.
	Now() time.Duration
}

// Line is the digital output wired to the module's enable (CH_PD) or reset
// pin.
type Line interface {
	Set(high bool) error
}

// SystemClock measures time from its creation using the monotonic clock
// reading of time.Time.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock returns a Clock whose origin is now.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.origin)
}

// NopLine is used when no enable line is wired. Set always succeeds.
type NopLine struct{}

func (NopLine) Set(bool) error { return nil }

const (
	defaultBaudRate     = 115200
	defaultPollInterval = 10 * time.Millisecond
)

// SerialDialer opens a module connected to a serial port using
// go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0".
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 115200.
	BaudRate int
	// Mode overrides the 8N1 default line settings.
	Mode *serial.Mode
	// PollInterval is the serial read timeout, i.e. the longest a single
	// Read waits for bytes. Defaults to 10ms.
	PollInterval time.Duration
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("esp: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("esp: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud <= 0 {
			baud = defaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}

	poll := d.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", d.PortName, err)
	}

	return &SerialTransport{port: port}, nil
}

// SerialTransport wraps a serial port. Its DTR signal is exposed as the
// module enable Line, which matches the usual USB-UART adapter wiring of
// DTR to CH_PD.
type SerialTransport struct {
	port serial.Port
}

func (s *SerialTransport) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialTransport) Close() error {
	return s.port.Close()
}

// Set drives DTR. The signal is active low on the wire, which most adapters
// invert back, so high means enabled.
func (s *SerialTransport) Set(high bool) error {
	return s.port.SetDTR(high)
}

var (
	_ Transport = (*SerialTransport)(nil)
	_ Line      = (*SerialTransport)(nil)
	_ Clock     = (*SystemClock)(nil)
	_ Line      = NopLine{}
)
