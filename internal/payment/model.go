package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusDraft    TransactionStatus = "draft"
	StatusPending  TransactionStatus = "pending"
	StatusDone     TransactionStatus = "done"
	StatusCanceled TransactionStatus = "cancel"
	StatusError    TransactionStatus = "error"
)

// IsOpen reports whether a notification may still move the transaction.
func (s TransactionStatus) IsOpen() bool {
	return s == StatusDraft || s == StatusPending
}

// Gateway status vocabulary.
const (
	GatewayApproved = "APPROVED"
	GatewayDeclined = "DECLINED"
	GatewayError    = "ERROR"
	GatewayVoided   = "VOIDED"
	GatewayPending  = "PENDING"
)

type Transaction struct {
	ID                uint
	Reference         string
	ProviderCode      string
	ProviderReference string
	Amount            decimal.Decimal
	Currency          string
	Status            TransactionStatus
	StateMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CheckoutPayload is what the checkout page needs to open the Wompi widget.
type CheckoutPayload struct {
	PublicKey     string `json:"public_key"`
	AmountInCents int64  `json:"amount_in_cents"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
	RedirectURL   string `json:"redirect_url"`
	Signature     string `json:"signature_integrity"`
	CheckoutURL   string `json:"api_url"`
}

// WebhookEvent is the audit row kept for every verified webhook delivery.
type WebhookEvent struct {
	ID             int64
	Provider       string
	EventType      string
	TransactionID  string
	Reference      string
	Payload        json.RawMessage
	SignatureValid bool
	ProcessedAt    *time.Time
	ProcessError   string
	CreatedAt      time.Time
}
