package event

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattsd/pkg/convert"
	"github.com/srg/gattsd/pkg/native"
)

// Envelope field names.
const (
	FieldID           = "id"
	FieldKind         = "kind"
	FieldName         = "name"
	FieldTime         = "time"
	FieldConnHandle   = "conn_handle"
	FieldPayload      = "payload"
	FieldPayloadError = "payload_error"
)

// Build wraps evt into a managed envelope stamped with at. A payload that
// cannot be fully converted is logged and reported under payload_error
// next to whatever part of it could be converted; the envelope is always
// returned.
func Build(evt *native.Event, at time.Time, logger *logrus.Logger) convert.Object {
	kind := Kind(evt.ID)
	env := convert.Object{
		FieldID:         evt.ID,
		FieldKind:       kind.String(),
		FieldName:       kind.Name(),
		FieldTime:       Format(at),
		FieldConnHandle: evt.ConnHandle,
		FieldPayload:    nil,
	}

	payload, err := convert.EventPayload(evt)
	if payload != nil {
		env[FieldPayload] = payload
	}
	if err != nil {
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"kind":        kind.String(),
				"conn_handle": evt.ConnHandle,
				"error":       err,
			}).Warn("Failed to convert event payload")
		}
		env[FieldPayloadError] = err.Error()
	}
	return env
}
