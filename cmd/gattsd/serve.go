package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattsd/internal/serialization"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/gatts"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Drive a connectivity firmware over a serial port and stream its events",
	Long: `Opens the serialization link to a connectivity firmware, enables the
GATT server and prints every event envelope until interrupted.

The port may also come from serial.port in the config file. To try it
without hardware, run "gattsd emulate" and pass the printed path.

Example:
  gattsd serve --port /dev/ttyACM0
  gattsd serve --port /dev/pts/4 --format json`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	servePort     string
	serveBaud     int
	serveFormat   string
	serveDuration time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Serial port of the connectivity firmware")
	serveCmd.Flags().IntVar(&serveBaud, "baud", 0, "Baud rate (default from config)")
	serveCmd.Flags().StringVar(&serveFormat, "format", "", "Output format: text, json or cbor (default from config)")
	serveCmd.Flags().DurationVar(&serveDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Serial.Port = servePort
	}
	if serveBaud != 0 {
		cfg.Serial.Baud = serveBaud
	}
	if serveFormat != "" {
		cfg.OutputFormat = serveFormat
	}
	if cfg.Serial.Port == "" {
		return ErrNoPort
	}
	printer, err := newEnvelopePrinter(cmd.OutOrStdout(), cfg.OutputFormat)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if serveDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, serveDuration)
		defer cancel()
	}

	port, err := serialization.OpenPort(&serialization.PortConfig{
		Name:        cfg.Serial.Port,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	})
	if err != nil {
		return err
	}
	drv := serialization.Open(ctx, port, &serialization.Options{
		Logger:          logger,
		ResponseTimeout: cfg.ResponseTimeout,
		EOFIsTimeout:    cfg.Serial.ReadTimeout > 0,
	})
	defer drv.Close()

	b, err := newBridge(ctx, drv, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Stop()

	unsubscribe := b.Subscribe(printer.Envelope)
	defer unsubscribe()

	out, err := b.CallSync(ctx, gatts.VerbEnable, convert.Object{})
	if err != nil {
		return err
	}
	printer.Result(gatts.VerbEnable, out)
	logger.WithField("port", cfg.Serial.Port).Info("GATT server enabled, streaming events")

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case <-drv.Done():
		logger.Warn("Serial link closed")
	}
	return nil
}
