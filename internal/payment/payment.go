// internal/payment/payment.go
package payment

import (
	"context"
	"net/url"
)

// Gateway is the outbound side of the Wompi API.
type Gateway interface {
	GetTransaction(ctx context.Context, cfg ProviderConfig, transactionID string) (*Envelope, error)
}

// NotificationVerifier turns untrusted inbound data into a Notification.
type NotificationVerifier interface {
	VerifyRedirect(ctx context.Context, cfg ProviderConfig, query url.Values) (*Notification, error)
	VerifyWebhook(ctx context.Context, cfg ProviderConfig, body []byte) (*Notification, error)
}
