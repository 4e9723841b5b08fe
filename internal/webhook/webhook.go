package webhook

import (
	"context"
	"time"
)

const AlertSchemaVersion = 1

// Alert is posted to the operator webhook whenever the notifier hits an
// error it only logs otherwise.
type Alert struct {
	SchemaVersion int               `json:"schema_version"`
	Kind          string            `json:"kind"`
	Message       string            `json:"message"`
	Error         string            `json:"error,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type Sender interface {
	SendAlert(ctx context.Context, alert Alert) error
}
