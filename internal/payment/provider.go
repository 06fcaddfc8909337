package payment

import "strings"

const (
	ProviderCode = "wompi"

	checkoutURL      = "https://checkout.wompi.co/p/"
	productionAPIURL = "https://production.wompi.co/v1"
	sandboxAPIURL    = "https://sandbox.wompi.co/v1"

	// ReturnPath is where the checkout page sends the customer back to.
	ReturnPath  = "/payment/wompi/return/"
	WebhookPath = "/payment/wompi/webhook/"
)

type ProviderState string

const (
	StateEnabled  ProviderState = "enabled"
	StateTest     ProviderState = "test"
	StateDisabled ProviderState = "disabled"
)

var supportedCurrencies = []string{"COP"}

// ProviderConfig carries the Wompi credentials for a single call. It is passed
// by value into the verifier and the checkout builder.
type ProviderConfig struct {
	PublicKey       string
	EventsKey       string
	IntegritySecret string
	State           ProviderState
}

// Validate reports ErrIncompleteConfig unless all three keys are set.
func (c ProviderConfig) Validate() error {
	if c.PublicKey == "" || c.EventsKey == "" || c.IntegritySecret == "" {
		return ErrIncompleteConfig
	}
	return nil
}

// APIURL returns the production API only when the provider is enabled;
// every other state talks to the sandbox.
func (c ProviderConfig) APIURL() string {
	if c.State == StateEnabled {
		return productionAPIURL
	}
	return sandboxAPIURL
}

// CheckoutURL does not depend on the provider state.
func (c ProviderConfig) CheckoutURL() string {
	return checkoutURL
}

func SupportsCurrency(code string) bool {
	for _, c := range supportedCurrencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}
