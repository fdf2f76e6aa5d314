package esp

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.bug.st/serial"
)

func TestSerialDialer(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		dialer  SerialDialer
		ctx     context.Context
		wantErr string
		is      error
	}{
		{
			name:    "Empty port name",
			dialer:  SerialDialer{},
			ctx:     context.Background(),
			wantErr: "esp: serial port name is required",
		},
		{
			name:    "Nil context",
			dialer:  SerialDialer{PortName: "/dev/ttyUSB0"},
			ctx:     nil,
			wantErr: "esp: context is nil",
		},
		{
			name:   "Canceled context",
			dialer: SerialDialer{PortName: "/dev/nonexistent"},
			ctx:    canceled,
			is:     context.Canceled,
		},
		{
			name: "Explicit mode on a missing port",
			dialer: SerialDialer{
				PortName: "/dev/nonexistent",
				Mode: &serial.Mode{
					BaudRate: 9600,
					Parity:   serial.NoParity,
					DataBits: 8,
					StopBits: serial.OneStopBit,
				},
			},
			ctx: context.Background(),
		},
		{
			name:   "Default mode on a missing port",
			dialer: SerialDialer{PortName: "/dev/nonexistent", BaudRate: 74880},
			ctx:    context.Background(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(tt.ctx)
			if err == nil {
				t.Fatal("expected an error")
			}
			if transport != nil {
				t.Error("expected nil transport on error")
			}
			if tt.wantErr != "" && err.Error() != tt.wantErr {
				t.Errorf("unexpected error message: %v", err)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v, got: %v", tt.is, err)
			}
		})
	}
}

func TestSystemClock(t *testing.T) {
	c := NewSystemClock()

	first := c.Now()
	time.Sleep(time.Millisecond)
	second := c.Now()

	if first < 0 {
		t.Errorf("Now() = %v, want a non-negative duration", first)
	}
	if second <= first {
		t.Errorf("clock did not advance: %v then %v", first, second)
	}
}

func TestNopLine(t *testing.T) {
	var l Line = NopLine{}
	if err := l.Set(true); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := l.Set(false); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTestTransport(t *testing.T) {
	tr := NewTestTransport()
	tr.Reply("AT\r\n", "A", "T\r\r\n")

	buf := make([]byte, 2)
	if n, err := tr.Read(buf); n != 0 || err != nil {
		t.Fatalf("Read() on an idle transport = %d, %v; want 0, nil", n, err)
	}

	if _, err := tr.Write([]byte("AT+RST\r\n")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if n, _ := tr.Read(buf); n != 0 {
		t.Fatal("unscripted command produced a reply")
	}

	if _, err := tr.Write([]byte("AT\r\n")); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	var got []byte
	for range 4 {
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "AT\r\r\n" {
		t.Errorf("read %q", got)
	}

	if tr.Written() != "AT+RST\r\nAT\r\n" {
		t.Errorf("Written() = %q", tr.Written())
	}

	tr.FailWrites(io.ErrShortWrite)
	if _, err := tr.Write([]byte("AT\r\n")); err != io.ErrShortWrite {
		t.Errorf("expected scripted write error, got: %v", err)
	}

	tr.Close()
	if _, err := tr.Read(buf); err != io.EOF {
		t.Errorf("expected io.EOF after close, got: %v", err)
	}
}
