package esp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"i4.energy/across/esplink/at"
)

// readChunk is the size of a single transport read.
const readChunk = 256

// Driver is a session with one ESP-AT WiFi module. It sequences command
// encoding, transport I/O and response scanning into the public operations.
//
// A Driver has a single owner. Operations block until the module answers or
// the operation's deadline elapses, and must not be issued concurrently;
// callers sharing a Driver between goroutines serialize access themselves.
// No operation retries: retry and backoff belong to the caller's control
// loop.
type Driver struct {
	// transport provides the physical connection to the module
	transport Transport
	// clock measures deadlines
	clock Clock
	// line drives the module enable pin
	line Line
	// logger receives tx/rx traces at debug level
	logger *slog.Logger
	// timeouts holds the deadline of each operation
	timeouts Timeouts
	// closed indicates if the driver has been shut down
	closed bool

	scan  scanner
	chunk []byte
}

// New creates a Driver with the given configuration. It establishes the
// transport connection but sends nothing: bringing the module up is the
// caller's job (PowerOn, Test, SetMode, JoinAP...).
func New(ctx context.Context, config Config) (*Driver, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial module: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	line := config.Line
	if line == nil {
		if l, ok := transport.(Line); ok {
			line = l
		} else {
			line = NopLine{}
		}
	}

	return &Driver{
		transport: transport,
		clock:     config.Clock,
		line:      line,
		logger:    config.Logger,
		timeouts:  config.Timeouts,
		chunk:     make([]byte, readChunk),
	}, nil
}

// Timeouts returns the deadlines currently in use.
func (d *Driver) Timeouts() Timeouts {
	return d.timeouts
}

// SetTimeouts replaces the operation deadlines. Zero values keep their
// defaults.
func (d *Driver) SetTimeouts(t Timeouts) {
	t.setDefaults()
	d.timeouts = t
}

// Buffered returns the number of received bytes no exchange has consumed.
func (d *Driver) Buffered() int {
	return len(d.scan.buf)
}

// Pending returns the number of notification payloads waiting for
// CIPReceive.
func (d *Driver) Pending() int {
	return len(d.scan.pending)
}

// Close releases the transport. After calling Close the driver cannot be
// reused.
func (d *Driver) Close() error {
	if d.closed {
		return ErrAlreadyClosed
	}
	d.closed = true
	if d.transport != nil {
		return d.transport.Close()
	}
	return nil
}

// PowerOn drives the enable line high. No response is expected; the module
// prints its boot banner, which the next exchange discards.
func (d *Driver) PowerOn() error {
	return d.setLine(true)
}

// PowerOff drives the enable line low.
func (d *Driver) PowerOff() error {
	return d.setLine(false)
}

// HardRestart power cycles the module through the enable line and waits
// for the "ready" banner. The line is held low for Timeouts.ResetHold.
func (d *Driver) HardRestart() error {
	if err := d.PowerOff(); err != nil {
		return err
	}
	if err := d.hold(d.timeouts.ResetHold); err != nil {
		return err
	}
	if err := d.PowerOn(); err != nil {
		return err
	}
	_, err := d.expect(at.ReadyFrame(), d.timeouts.Restart)
	return err
}

// Test checks that the module answers AT with OK.
func (d *Driver) Test() error {
	_, err := d.expect(at.Test(), d.timeouts.Test)
	return err
}

// Restart soft resets the module with AT+RST. It succeeds once the module
// acknowledged the command with OK and printed "ready" after rebooting.
func (d *Driver) Restart() error {
	frame := at.Restart()
	resp, err := d.expect(frame, d.timeouts.Restart)
	if err != nil {
		return err
	}
	if !hasLine(resp.Payload, at.OK) {
		return &CommandError{
			Command:  frame.Name,
			Response: string(resp.Payload),
			Err:      fmt.Errorf("%w: no %s before %s", ErrDecode, at.OK, at.Ready),
		}
	}
	return nil
}

// SetMode selects station, soft-AP or combined mode.
func (d *Driver) SetMode(mode at.Mode) error {
	frame, err := at.SetMode(mode)
	if err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	_, err = d.expect(frame, d.timeouts.Mode)
	return err
}

// SetTransferMode selects normal (0) or passthrough (1) transmission.
func (d *Driver) SetTransferMode(mode int) error {
	frame, err := at.SetTransferMode(mode)
	if err != nil {
		return fmt.Errorf("set transfer mode: %w", err)
	}
	_, err = d.expect(frame, d.timeouts.Mode)
	return err
}

// SetAutoConnect controls whether the module rejoins the saved access point
// on power up.
func (d *Driver) SetAutoConnect(enabled bool) error {
	_, err := d.expect(at.SetAutoConnect(enabled), d.timeouts.Mode)
	return err
}

// JoinAP associates with an access point. When the module refuses, the
// returned error wraps a *JoinError carrying the reported reason.
func (d *Driver) JoinAP(ssid, password string) error {
	frame, err := at.JoinAP(ssid, password)
	if err != nil {
		return fmt.Errorf("join access point: %w", err)
	}
	resp, err := d.expect(frame, d.timeouts.Join)
	if err != nil && resp.Kind == Failed {
		return &CommandError{
			Command:  frame.Name,
			Response: string(resp.Payload),
			Err:      &JoinError{Reason: parseJoinReason(resp.Payload)},
		}
	}
	return err
}

// ConnectServer opens a TCP, UDP or SSL session to host:port.
func (d *Driver) ConnectServer(proto at.Protocol, host string, port int) error {
	frame, err := at.Start(proto, host, port)
	if err != nil {
		return fmt.Errorf("connect server: %w", err)
	}
	_, err = d.expect(frame, d.timeouts.Connect)
	return err
}

// CIPStatus queries the module's connectivity state. On error the returned
// state is StateUninitialized and the caller should query again.
func (d *Driver) CIPStatus() (State, error) {
	frame := at.Status()
	resp, err := d.expect(frame, d.timeouts.Status)
	if err != nil {
		return StateUninitialized, err
	}
	state, err := ParseStatus(resp.Payload)
	if err != nil {
		return StateUninitialized, &CommandError{Command: frame.Name, Response: string(resp.Payload), Err: err}
	}
	return state, nil
}

// CIPReceive returns the oldest payload received through a +IPD
// notification. Queued payloads are returned first; only when the queue is
// empty does it poll the transport once without waiting, so data that
// arrived while no command was running is picked up too. ErrNoData is
// returned when nothing is pending.
//
// Complete lines that are not notifications are discarded afterwards, so
// polling between commands keeps at most a trailing partial line buffered.
func (d *Driver) CIPReceive() ([]byte, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if p, ok := d.scan.next(); ok {
		return p, nil
	}

	pollErr := d.poll()
	d.settle()

	if p, ok := d.scan.next(); ok {
		if pollErr != nil {
			d.logger.Debug("read failed after data arrived", "error", pollErr)
		}
		return p, nil
	}
	if pollErr != nil {
		return nil, pollErr
	}
	return nil, ErrNoData
}

// Send transmits payload on the open session. The length is announced with
// AT+CIPSEND, the raw bytes follow the ">" prompt and the module confirms
// with SEND OK. Payloads larger than at.MaxPayloadLen fail with ErrEncoding
// before anything is written.
func (d *Driver) Send(payload []byte) error {
	lengthFrame, err := at.SendLength(len(payload))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	dataFrame, err := at.SendData(payload)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if _, err := d.expect(lengthFrame, d.timeouts.Prompt); err != nil {
		return err
	}
	_, err = d.expect(dataFrame, d.timeouts.Send)
	return err
}

// expect runs one exchange and turns timeouts and failure tokens into
// errors.
func (d *Driver) expect(frame at.Frame, timeout time.Duration) (Response, error) {
	resp, err := d.exchange(frame, timeout)
	if err != nil {
		return resp, &CommandError{Command: frame.Name, Err: err}
	}
	switch resp.Kind {
	case TimedOut:
		return resp, &CommandError{Command: frame.Name, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
	case Failed:
		return resp, &CommandError{
			Command:  frame.Name,
			Response: string(resp.Payload),
			Err:      fmt.Errorf("%w: %s", ErrModuleRejected, resp.Token),
		}
	}
	return resp, nil
}

// exchange writes the frame's command, if any, and scans the response.
func (d *Driver) exchange(frame at.Frame, timeout time.Duration) (Response, error) {
	if err := d.ready(); err != nil {
		return Response{}, err
	}
	if len(frame.Command) > 0 {
		d.logger.Debug("tx", "command", frame.Name, "bytes", len(frame.Command))
		if err := d.write(frame.Command); err != nil {
			return Response{}, err
		}
	}
	d.settle()
	resp, err := d.readUntil(frame, timeout)
	if err != nil {
		return resp, err
	}
	d.logger.Debug("rx", "command", frame.Name, "result", resp.Kind.String(), "token", resp.Token, "notifications", resp.Notifications)
	return resp, nil
}

// write sends p completely. A failure before any byte was accepted leaves
// the session untouched.
func (d *Driver) write(p []byte) error {
	for written := 0; written < len(p); {
		n, err := d.transport.Write(p[written:])
		written += n
		if err != nil {
			return fmt.Errorf("%w: write after %d of %d bytes: %w", ErrIO, written, len(p), err)
		}
		if n == 0 {
			return fmt.Errorf("%w: write made no progress after %d of %d bytes", ErrIO, written, len(p))
		}
	}
	return nil
}

// readUntil polls the transport until the scanner finds one of the frame's
// tokens or the clock passes the deadline.
func (d *Driver) readUntil(frame at.Frame, timeout time.Duration) (Response, error) {
	deadline := d.clock.Now() + timeout
	d.scan.begin(frame.Tokens)

	for {
		if token, end, ok := d.scan.advance(); ok {
			return d.finish(frame, token, end), nil
		}
		if d.clock.Now() > deadline {
			return Response{Kind: TimedOut, Notifications: d.scan.notes}, nil
		}
		if err := d.poll(); err != nil {
			return Response{Kind: NoResponse, Notifications: d.scan.notes}, err
		}
	}
}

// settle drops the complete lines left behind by abandoned exchanges and
// moves finished notifications to the queue.
func (d *Driver) settle() {
	if stale := d.scan.settle(); len(stale) > 0 {
		d.logger.Debug("discarded stale output", "bytes", len(stale), "data", string(stale))
	}
}

// hold keeps the line state for the given time. The transport is polled
// meanwhile, which paces the loop on serial ports; what arrives is dropped
// by the next settle.
func (d *Driver) hold(duration time.Duration) error {
	deadline := d.clock.Now() + duration
	for d.clock.Now() < deadline {
		if err := d.poll(); err != nil {
			return err
		}
	}
	return nil
}

// poll performs one transport read and buffers what arrived.
func (d *Driver) poll() error {
	n, err := d.transport.Read(d.chunk)
	if n > 0 {
		d.scan.feed(d.chunk[:n])
	}
	if err != nil {
		return fmt.Errorf("%w: read: %w", ErrIO, err)
	}
	return nil
}

// finish consumes the exchange's bytes from the buffer and builds the
// response.
func (d *Driver) finish(frame at.Frame, token at.Token, end int) Response {
	raw := d.scan.consume(end)
	raw = raw[:len(raw)-len(token.Wire())]

	kind := Matched
	if token.Failure {
		kind = Failed
	}
	return Response{
		Kind:          kind,
		Token:         token.Text,
		Payload:       d.payload(frame, raw),
		Notifications: d.scan.notes,
	}
}

// payload strips the command echo and active reports from raw response text.
func (d *Driver) payload(frame at.Frame, raw []byte) []byte {
	echo := frame.Line()
	var lines []string
	for _, line := range at.Lines(raw) {
		if echo != "" && line == echo {
			echo = ""
			continue
		}
		if at.Classify(line) == at.TypeReport {
			d.logger.Debug("report", "line", line)
			continue
		}
		lines = append(lines, line)
	}
	return []byte(strings.Join(lines, "\n"))
}

func (d *Driver) setLine(high bool) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.line.Set(high); err != nil {
		return fmt.Errorf("%w: enable line: %w", ErrIO, err)
	}
	d.logger.Debug("enable line", "high", high)
	return nil
}

func (d *Driver) ready() error {
	if d.closed {
		return ErrAlreadyClosed
	}
	if d.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

func hasLine(payload []byte, want string) bool {
	for _, line := range at.Lines(payload) {
		if line == want {
			return true
		}
	}
	return false
}
