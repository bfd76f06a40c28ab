package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattsd/internal/ptyio"
	"github.com/srg/gattsd/internal/serialization"
	"github.com/srg/gattsd/internal/simdriver"
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Expose the simulated driver as a connectivity firmware on a PTY",
	Long: `Creates a pseudo-terminal and answers serialization commands on it with
the in-process simulated GATT server, as a connectivity firmware would on
its UART. The slave path is printed on stdout; pass it to "gattsd serve".

Example:
  gattsd emulate --symlink /tmp/gatts-fw
  gattsd serve --port /tmp/gatts-fw`,
	Args: cobra.NoArgs,
	RunE: runEmulate,
}

var (
	emulateSymlink string
	emulateConnect uint16
	emulateMTU     uint16
)

func init() {
	emulateCmd.Flags().StringVar(&emulateSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/gatts-fw)")
	emulateCmd.Flags().Uint16Var(&emulateConnect, "connect", 0, "Connect a simulated peer with this connection handle (0 = none)")
	emulateCmd.Flags().Uint16Var(&emulateMTU, "mtu", 0, "ATT MTU of the simulated peer (0 = default 23)")
}

func runEmulate(cmd *cobra.Command, _ []string) error {
	_, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := ptyio.Open(logger)
	if err != nil {
		return err
	}
	defer p.Close()

	path := p.TTYName()
	if emulateSymlink != "" {
		_ = os.Remove(emulateSymlink)
		if err := os.Symlink(path, emulateSymlink); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", emulateSymlink, err)
		}
		defer os.Remove(emulateSymlink)
		path = emulateSymlink
	}

	sim := simdriver.New(&simdriver.Options{Logger: logger})
	if emulateConnect != 0 {
		if err := sim.Connect(emulateConnect, emulateMTU); err != nil {
			return err
		}
	}
	server := serialization.NewServer(sim, p, &serialization.ServerOptions{Logger: logger})

	fmt.Fprintln(cmd.OutOrStdout(), path)

	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	select {
	case <-ctx.Done():
		_ = p.Close()
		<-served
	case err = <-served:
	}

	commands, events := server.Stats()
	st := p.Stats()
	logger.WithFields(logrus.Fields{
		"commands": commands,
		"events":   events,
		"rx_bytes": st.ReadBytesTotal,
		"tx_bytes": st.WriteBytesTotal,
	}).Info("Emulator stopped")
	return err
}
