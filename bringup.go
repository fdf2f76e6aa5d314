package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/esplink/at"
	"i4.energy/across/esplink/esp"
)

// RetryPolicy defines how often a bring-up step is attempted.
type RetryPolicy struct {
	// Delay is the pause between two attempts. It is also the inter-command
	// delay some firmware needs after an error.
	Delay time.Duration
	// Attempts is the maximum number of attempts, at least 1.
	Attempts int
}

// BringUp drives a module from power on to an open server session. The
// driver never retries by itself; this is the control loop that does.
type BringUp struct {
	Driver *esp.Driver
	Logger *slog.Logger
	Retry  RetryPolicy

	SSID     string
	Password string

	Protocol at.Protocol
	Host     string
	Port     int
}

// NewBringUp creates a bring-up sequence from the application config.
func NewBringUp(d *esp.Driver, config *Config, logger *slog.Logger) *BringUp {
	return &BringUp{
		Driver:   d,
		Logger:   logger,
		Retry:    RetryPolicy{Delay: config.RetryDelay, Attempts: config.MaxAttempts},
		SSID:     config.SSID,
		Password: config.Password,
		Protocol: at.Protocol(config.Protocol),
		Host:     config.Host,
		Port:     config.Port,
	}
}

// Run checks the module answers, selects station mode, joins the access
// point unless already associated and opens the server session. Steps
// without configuration (empty SSID or Host) are skipped. It returns the
// state reported by the module at the end.
func (b *BringUp) Run(ctx context.Context) (esp.State, error) {
	if err := b.retry(ctx, "test", b.Driver.Test); err != nil {
		return esp.StateUninitialized, err
	}
	if err := b.retry(ctx, "set mode", func() error {
		return b.Driver.SetMode(at.ModeStation)
	}); err != nil {
		return esp.StateUninitialized, err
	}

	state, err := b.status(ctx)
	if err != nil {
		return state, err
	}

	if b.SSID != "" && !associated(state) {
		if err := b.retry(ctx, "join", func() error {
			return b.Driver.JoinAP(b.SSID, b.Password)
		}); err != nil {
			return state, err
		}
		b.Logger.Info("Joined access point", "ssid", b.SSID)
	}

	if b.Host != "" && state != esp.StateServerConnected {
		if err := b.retry(ctx, "connect", b.connect); err != nil {
			return state, err
		}
		b.Logger.Info("Server session open", "protocol", b.Protocol, "host", b.Host, "port", b.Port)
	}

	return b.status(ctx)
}

func (b *BringUp) status(ctx context.Context) (esp.State, error) {
	var state esp.State
	err := b.retry(ctx, "status", func() error {
		var err error
		state, err = b.Driver.CIPStatus()
		return err
	})
	return state, err
}

// connect opens the session. A session that is already open counts as
// success.
func (b *BringUp) connect() error {
	err := b.Driver.ConnectServer(b.Protocol, b.Host, b.Port)
	var cmdErr *esp.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Response == at.AlreadyLinked {
		return nil
	}
	return err
}

// retry runs op until it succeeds, fails permanently or runs out of
// attempts, waiting Delay between attempts. Cancellation is honored between
// attempts only; a running operation ends at its own deadline.
func (b *BringUp) retry(ctx context.Context, step string, op func() error) error {
	attempts := max(b.Retry.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if permanent(err) {
			return fmt.Errorf("%s: %w", step, err)
		}
		b.Logger.Warn("Bring-up step failed", "step", step, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(b.Retry.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", step, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", step, attempts, err)
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	if errors.Is(err, esp.ErrEncoding) ||
		errors.Is(err, esp.ErrAlreadyClosed) ||
		errors.Is(err, esp.ErrNotInitialized) {
		return true
	}
	var joinErr *esp.JoinError
	if errors.As(err, &joinErr) {
		return joinErr.Reason == esp.JoinWrongPassword || joinErr.Reason == esp.JoinNoAP
	}
	return false
}

func associated(s esp.State) bool {
	switch s {
	case esp.StateWifiConnected, esp.StateServerConnected, esp.StateServerDisconnected:
		return true
	}
	return false
}
