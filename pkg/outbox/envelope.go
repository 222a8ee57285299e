package outbox

import (
	"encoding/json"
	"time"
)

const envelopeSource = "shopcore"

// PayloadEnvelope is the stable payload structure stored in outbox_events
// and published as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	Source     string          `json:"source"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload.
func DecodeEnvelope(payload string) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return PayloadEnvelope{}, err
	}
	return envelope, nil
}
