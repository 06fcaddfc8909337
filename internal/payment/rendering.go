package payment

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AmountInCents truncates any fraction of a cent.
func AmountInCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).IntPart()
}

// BuildCheckoutPayload assembles the values the checkout page posts to Wompi.
// The currency is expected to have been filtered by SupportsCurrency already.
func BuildCheckoutPayload(tx *Transaction, cfg ProviderConfig, baseURL string) *CheckoutPayload {
	cents := AmountInCents(tx.Amount)
	signature := Sign(tx.Reference + strconv.FormatInt(cents, 10) + tx.Currency + cfg.IntegritySecret)

	return &CheckoutPayload{
		PublicKey:     cfg.PublicKey,
		AmountInCents: cents,
		Currency:      tx.Currency,
		Reference:     tx.Reference,
		RedirectURL:   joinURL(baseURL, ReturnPath),
		Signature:     signature,
		CheckoutURL:   cfg.CheckoutURL(),
	}
}

func joinURL(base, path string) string {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" {
		return strings.TrimRight(base, "/") + path
	}
	return u.ResolveReference(&url.URL{Path: path}).String()
}
