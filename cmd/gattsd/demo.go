package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattsd/internal/simdriver"
	"github.com/srg/gattsd/pkg/config"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/event"
	"github.com/srg/gattsd/pkg/gatts"
	"github.com/srg/gattsd/pkg/native"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted GATT server session against the simulated driver",
	Long: `Runs a heart rate service session against the in-process simulated
driver and prints every command result and event envelope:

  enable → add_service → add_characteristic (notify, user description)
  → add_characteristic (authorized writes) → set_value → get_value
  → peer connects and enables notifications → sys_attr_set → hvx
  → peer writes the control point → reply_rw_authorize

Example:
  gattsd demo
  gattsd demo --format json`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoFormat string
	demoPeer   uint16
)

func init() {
	demoCmd.Flags().StringVar(&demoFormat, "format", "", "Output format: text, json or cbor (default from config)")
	demoCmd.Flags().Uint16Var(&demoPeer, "conn-handle", 1, "Connection handle of the simulated peer")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if demoFormat == "" {
		demoFormat = cfg.OutputFormat
	}
	printer, err := newEnvelopePrinter(cmd.OutOrStdout(), demoFormat)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	drv := simdriver.New(&simdriver.Options{Logger: logger})
	b, err := newBridge(ctx, drv, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Stop()

	s := &demoSession{ctx: ctx, bridge: b, printer: printer, events: make(chan convert.Object, 32)}
	unsubscribe := b.Subscribe(func(env convert.Object) { s.events <- env })
	defer unsubscribe()

	return s.run(drv, demoPeer)
}

// newBridge creates and starts a bridge sized from cfg.
func newBridge(ctx context.Context, drv native.Driver, cfg *config.Config, logger *logrus.Logger) (*gatts.Bridge, error) {
	b, err := gatts.New(drv, &gatts.Options{
		Logger:      logger,
		Workers:     cfg.Workers,
		QueueDepth:  cfg.QueueDepth,
		HistorySize: cfg.HistorySize,
	})
	if err != nil {
		return nil, err
	}
	if err := b.Start(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

type demoSession struct {
	ctx     context.Context
	bridge  *gatts.Bridge
	printer *envelopePrinter
	events  chan convert.Object
}

func (s *demoSession) call(verb string, input convert.Object) (convert.Object, error) {
	out, err := s.bridge.CallSync(s.ctx, verb, input)
	if err != nil {
		return nil, err
	}
	s.printer.Result(verb, out)
	return out, nil
}

// expect prints the next envelope and checks its kind.
func (s *demoSession) expect(kind string) (convert.Object, error) {
	select {
	case env := <-s.events:
		s.printer.Envelope(env)
		if env[event.FieldKind] != kind {
			return env, fmt.Errorf("expected %s event, got %v", kind, env[event.FieldKind])
		}
		return env, nil
	case <-time.After(2 * time.Second):
		return nil, fmt.Errorf("no %s event delivered", kind)
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func openAttrMD(wrAuth bool) convert.Object {
	open := convert.Object{"sm": 1, "lv": 1}
	return convert.Object{
		"read_perm":  open,
		"write_perm": open,
		"vloc":       "BLE_GATTS_VLOC_STACK",
		"wr_auth":    wrAuth,
	}
}

func (s *demoSession) run(drv *simdriver.Driver, peer uint16) error {
	if _, err := s.call(gatts.VerbEnable, convert.Object{}); err != nil {
		return err
	}

	svc, err := s.call(gatts.VerbAddService, convert.Object{
		"type": "BLE_GATTS_SRVC_TYPE_PRIMARY",
		"uuid": convert.Object{"uuid": 0x180D, "type": "BLE_UUID_TYPE_BLE"},
	})
	if err != nil {
		return err
	}

	hrMD := openAttrMD(false)
	hrMD["vlen"] = true
	hr, err := s.call(gatts.VerbAddCharacteristic, convert.Object{
		"service_handle": svc["handle"],
		"char_md": convert.Object{
			"char_props":     convert.Object{"read": true, "notify": true},
			"char_user_desc": []byte("Heart Rate"),
		},
		"attr": convert.Object{
			"uuid":    convert.Object{"uuid": 0x2A37, "type": "BLE_UUID_TYPE_BLE"},
			"attr_md": hrMD,
			"value":   []byte{0x00, 0x00},
			"max_len": 20,
		},
	})
	if err != nil {
		return err
	}

	cp, err := s.call(gatts.VerbAddCharacteristic, convert.Object{
		"service_handle": svc["handle"],
		"char_md":        convert.Object{"char_props": convert.Object{"write": true}},
		"attr": convert.Object{
			"uuid":    convert.Object{"uuid": 0x2A39, "type": "BLE_UUID_TYPE_BLE"},
			"attr_md": openAttrMD(true),
			"max_len": 1,
		},
	})
	if err != nil {
		return err
	}

	if _, err := s.call(gatts.VerbSetValue, convert.Object{
		"handle": hr["value_handle"],
		"value":  convert.Object{"value": []byte{0x00, 0x48}},
	}); err != nil {
		return err
	}
	if _, err := s.call(gatts.VerbGetValue, convert.Object{"handle": hr["value_handle"]}); err != nil {
		return err
	}

	if err := drv.Connect(peer, 0); err != nil {
		return err
	}
	if _, err := s.call(gatts.VerbSysAttrSet, convert.Object{"conn_handle": peer}); err != nil {
		return err
	}
	if st := drv.Write(peer, hr["cccd_handle"].(uint16), native.OpWriteReq, 0, []byte{0x01, 0x00}); st != native.Success {
		return fmt.Errorf("peer failed to enable notifications: %s", st)
	}
	if _, err := s.expect("write"); err != nil {
		return err
	}

	if _, err := s.call(gatts.VerbHVX, convert.Object{
		"conn_handle": peer,
		"params": convert.Object{
			"handle": hr["value_handle"],
			"type":   "BLE_GATT_HVX_NOTIFICATION",
			"data":   []byte{0x00, 0x4C},
		},
	}); err != nil {
		return err
	}

	if st := drv.Write(peer, cp["value_handle"].(uint16), native.OpWriteReq, 0, []byte{0x01}); st != native.Success {
		return fmt.Errorf("peer write failed: %s", st)
	}
	if _, err := s.expect("rw_authorize_request"); err != nil {
		return err
	}
	if _, err := s.call(gatts.VerbReplyRWAuthorize, convert.Object{
		"conn_handle": peer,
		"params": convert.Object{
			"type":  "BLE_GATTS_AUTHORIZE_TYPE_WRITE",
			"write": convert.Object{"gatt_status": "BLE_GATT_STATUS_SUCCESS", "update": true},
		},
	}); err != nil {
		return err
	}
	_, err = s.call(gatts.VerbGetValue, convert.Object{"handle": cp["value_handle"]})
	return err
}
