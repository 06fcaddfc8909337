package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"wompi-pay/internal/logger"

	"go.uber.org/zap"
)

type verifier struct {
	gateway Gateway
}

func NewVerifier(gateway Gateway) NotificationVerifier {
	return &verifier{gateway: gateway}
}

// VerifyRedirect authenticates the data the customer's browser brings back
// from checkout. An empty query yields (nil, nil): nothing to verify. The
// query itself is never trusted; only the transaction id is taken from it
// and the record is re-fetched from the API.
func (v *verifier) VerifyRedirect(ctx context.Context, cfg ProviderConfig, query url.Values) (*Notification, error) {
	if len(query) == 0 {
		return nil, nil
	}

	id := query.Get("id")
	if id == "" {
		return nil, fmt.Errorf("%w: redirect carries no transaction id", ErrOriginUnverifiable)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	env, err := v.gateway.GetTransaction(ctx, cfg, id)
	if err != nil {
		return nil, err
	}
	return env.Normalize(SourceRedirect)
}

// VerifyWebhook parses an event body and checks its checksum when the event
// carries both signature.checksum and timestamp. Events missing either are
// accepted unsigned.
func (v *verifier) VerifyWebhook(ctx context.Context, cfg ProviderConfig, body []byte) (*Notification, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	n, err := env.Normalize(SourceWebhook)
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("wompi_transaction_id", n.TransactionID),
		zap.String("status", n.Status),
	)

	if !n.Signed() {
		log.Warn("Wompi event has no checksum or timestamp; accepting unsigned")
		return n, nil
	}

	if !checksumMatches(n.EventChecksum(cfg.EventsKey), n.Checksum) {
		log.Warn("Wompi event checksum mismatch")
		return nil, ErrInvalidSignature
	}
	return n, nil
}
