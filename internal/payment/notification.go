package payment

import (
	"encoding/json"
	"strings"
)

type Source string

const (
	SourceRedirect Source = "redirect"
	SourceWebhook  Source = "webhook"
)

// Envelope is the JSON shape shared by webhook events and the
// GET /transactions/{id} response.
type Envelope struct {
	Event       string          `json:"event,omitempty"`
	Data        *EnvelopeData   `json:"data"`
	Environment string          `json:"environment,omitempty"`
	Signature   *EventSignature `json:"signature,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
	SentAt      string          `json:"sent_at,omitempty"`
}

type EventSignature struct {
	Checksum   string   `json:"checksum"`
	Properties []string `json:"properties,omitempty"`
}

type TransactionData struct {
	ID                string      `json:"id,omitempty"`
	Reference         string      `json:"reference,omitempty"`
	AmountInCents     json.Number `json:"amount_in_cents,omitempty"`
	Status            string      `json:"status,omitempty"`
	StatusMessage     string      `json:"status_message,omitempty"`
	Currency          string      `json:"currency,omitempty"`
	PaymentMethodType string      `json:"payment_method_type,omitempty"`
}

// EnvelopeData is either flat (redirect lookups) or wraps the record in
// "transaction" (webhook events).
type EnvelopeData struct {
	TransactionData
	Transaction *TransactionData `json:"transaction,omitempty"`
}

func (d *EnvelopeData) empty() bool {
	return d == nil || (d.TransactionData == TransactionData{} && d.Transaction == nil)
}

// Notification is the flow-agnostic view of an inbound status update.
type Notification struct {
	Source        Source
	Event         string
	TransactionID string
	Reference     string
	AmountInCents string
	Status        string
	StatusMessage string
	Timestamp     string
	Checksum      string
}

// Signed reports whether the event carried both parts needed for checksum verification.
func (n *Notification) Signed() bool {
	return n.Timestamp != "" && n.Checksum != ""
}

// EventChecksum computes the expected event checksum for eventsKey.
func (n *Notification) EventChecksum(eventsKey string) string {
	return Sign(n.TransactionID + n.Status + n.AmountInCents + n.Timestamp + eventsKey)
}

func (n *Notification) ReplayKey() string {
	return "wompi:event:" + n.TransactionID + ":" + n.Status + ":" + n.Timestamp
}

// Normalize flattens the envelope into a Notification. Fields directly under
// data win over the ones nested in data.transaction.
func (e *Envelope) Normalize(source Source) (*Notification, error) {
	if e.Data.empty() {
		return nil, ErrMissingData
	}

	flat := e.Data.TransactionData
	nested := TransactionData{}
	if e.Data.Transaction != nil {
		nested = *e.Data.Transaction
	}

	n := &Notification{
		Source:        source,
		Event:         e.Event,
		TransactionID: firstNonEmpty(flat.ID, nested.ID),
		Reference:     firstNonEmpty(flat.Reference, nested.Reference),
		AmountInCents: firstNonEmpty(flat.AmountInCents.String(), nested.AmountInCents.String()),
		Status:        firstNonEmpty(flat.Status, nested.Status),
		StatusMessage: firstNonEmpty(flat.StatusMessage, nested.StatusMessage),
		Timestamp:     rawText(e.Timestamp),
	}
	if e.Signature != nil {
		n.Checksum = e.Signature.Checksum
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// rawText keeps a JSON scalar as the gateway wrote it: strings are unquoted,
// numbers keep their literal digits.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(raw, &out); err != nil {
			return ""
		}
		return out
	}
	return s
}
