package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/gattsd/pkg/command"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/gatts"
	"github.com/srg/gattsd/pkg/native"
)

// Command-level errors
var (
	// ErrNoPort indicates serve was started without a UART to open.
	ErrNoPort = errors.New("no serial port given (use --port or serial.port in the config file)")
)

var verbs = []string{
	gatts.VerbEnable,
	gatts.VerbAddService,
	gatts.VerbAddCharacteristic,
	gatts.VerbAddDescriptor,
	gatts.VerbSetValue,
	gatts.VerbGetValue,
	gatts.VerbHVX,
	gatts.VerbSysAttrSet,
	gatts.VerbReplyRWAuthorize,
}

// FormatUserError renders err for the terminal. Bridge errors keep their
// message; driver statuses get a hint about the usual cause.
func FormatUserError(err error) string {
	var statusErr *command.DriverStatusError
	var convErr *convert.ConversionError
	var verbErr *gatts.UnknownCommandError

	switch {
	case errors.As(err, &statusErr):
		if hint := statusHint(statusErr.Status); hint != "" {
			return fmt.Sprintf("%s\n  hint: %s", err.Error(), hint)
		}
		return err.Error()
	case errors.As(err, &convErr):
		return fmt.Sprintf("invalid input for %s: %s", convErr.Entity, err.Error())
	case errors.As(err, &verbErr):
		return fmt.Sprintf("%s (available: %s)", err.Error(), strings.Join(verbs, ", "))
	}
	return err.Error()
}

func statusHint(st native.Status) string {
	switch st {
	case native.ErrTimeout:
		return "the connectivity firmware did not answer; check the port and baud rate"
	case native.ErrInternal:
		return "the serial link is closed or the firmware reset"
	case native.ErrGattsSysAttrsMissing:
		return "call sys_attr_set for the connection before notifying"
	case native.ErrInvalidState:
		return "the stack is not enabled or the connection is gone"
	}
	return ""
}
