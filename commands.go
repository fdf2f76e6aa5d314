package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"i4.energy/across/esplink/esp"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "esplink",
		Short: "Drive an ESP-AT WiFi module over a serial line",
		Long: `esplink talks to an ESP8266/ESP32 running the AT firmware.

It brings the module up (station mode, access point, server session) with
retries and exposes status, send and receive either as one-shot commands or
through an HTTP bridge.

Configuration is read from defaults, an optional YAML file (--config), the
environment and flags, later sources overriding earlier ones. The WiFi
password is read from the file or the WIFI_PASSWORD environment variable
only.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringP("port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntP("baud", "b", 115200, "Baud rate")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newSendCmd())
	return rootCmd
}

// addBringUpFlags registers the flags of the bring-up sequence.
func addBringUpFlags(cmd *cobra.Command) {
	cmd.Flags().String("ssid", "", "Access point to join")
	cmd.Flags().String("protocol", "TCP", "Server protocol (TCP, UDP, SSL)")
	cmd.Flags().String("host", "", "Server host to connect to")
	cmd.Flags().Int("server-port", 0, "Server port")
	cmd.Flags().Duration("retry-delay", 2*time.Second, "Delay between attempts of a bring-up step")
	cmd.Flags().Int("attempts", 5, "Attempts per bring-up step")
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bring the module up and serve the HTTP bridge",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("bind", "0.0.0.0:8080", "Bind address for the HTTP server")
	addBringUpFlags(cmd)
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the module's connectivity state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run the bring-up sequence once and print the final state",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}
	addBringUpFlags(cmd)
	return cmd
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send text on the open server session and print any reply",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}
	cmd.Flags().Duration("wait", 2*time.Second, "How long to wait for a reply")
	return cmd
}

// session bundles what every command needs.
type session struct {
	config *Config
	logger *slog.Logger
	driver *esp.Driver
}

// openSession loads the configuration from all sources and opens the
// module on the configured serial port.
func openSession(cmd *cobra.Command) (*session, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	config, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv(), WithFlags(cmd.Flags()))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), config.Level())

	driverConfig, err := esp.NewConfigBuilder().
		WithDialer(esp.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithLogger(logger.With("component", "esp")).
		Build()
	if err != nil {
		return nil, fmt.Errorf("create driver config: %w", err)
	}

	d, err := esp.New(cmd.Context(), driverConfig)
	if err != nil {
		return nil, fmt.Errorf("open module: %w", err)
	}
	logger.Debug("Module opened", "port", config.SerialPort, "baud", config.BaudRate)

	return &session{config: config, logger: logger, driver: d}, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.driver.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := NewBringUp(s.driver, s.config, s.logger.With("component", "bringup")).Run(ctx)
	if err != nil {
		return fmt.Errorf("bring up: %w", err)
	}
	s.logger.Info("Module ready", "state", state.String())

	httpServer := &http.Server{
		Addr: s.config.BindAddress,
		Handler: &Server{
			Logger: s.logger.With("component", "server"),
			Driver: s.driver,
		},
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.driver.Close()

	state, err := s.driver.CIPStatus()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), state)
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.driver.Close()

	state, err := NewBringUp(s.driver, s.config, s.logger).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), state)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	wait, err := cmd.Flags().GetDuration("wait")
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.driver.Close()

	if err := s.driver.Send([]byte(args[0])); err != nil {
		return err
	}
	s.logger.Info("Payload sent", "bytes", len(args[0]))

	reply, err := awaitReply(cmd.Context(), s.driver, wait, 50*time.Millisecond)
	if errors.Is(err, esp.ErrNoData) {
		return nil
	}
	if err != nil {
		return err
	}
	cmd.OutOrStdout().Write(reply)
	return nil
}

// awaitReply polls CIPReceive until a payload arrives, wait elapses or ctx
// is done.
func awaitReply(ctx context.Context, d *esp.Driver, wait, interval time.Duration) ([]byte, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.Now().Add(wait)

	for {
		reply, err := d.CIPReceive()
		if !errors.Is(err, esp.ErrNoData) || !time.Now().Before(deadline) {
			return reply, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}
