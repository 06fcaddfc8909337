package webhook

import (
	"errors"
	"net/http"

	"wompi-pay/internal/payment"
)

type AckMode string

const (
	// AckLenient acknowledges events that can never succeed on redelivery so
	// the gateway stops retrying them.
	AckLenient AckMode = "lenient"
	// AckStrict answers every processing error with a non-2xx code.
	AckStrict AckMode = "strict"
)

func ParseAckMode(s string) AckMode {
	if AckMode(s) == AckStrict {
		return AckStrict
	}
	return AckLenient
}

// AckPolicy is the one place where webhook errors become HTTP status codes.
type AckPolicy struct {
	Mode AckMode
}

// StatusFor returns the status code to answer the gateway with, and whether
// the error is being acknowledged (logged, not propagated).
func (p AckPolicy) StatusFor(err error) (int, bool) {
	if err == nil {
		return http.StatusOK, false
	}

	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusUnauthorized, false
	case errors.Is(err, payment.ErrMalformedPayload):
		return http.StatusBadRequest, false
	}

	permanent := errors.Is(err, payment.ErrMissingData) ||
		errors.Is(err, payment.ErrMissingReference) ||
		errors.Is(err, payment.ErrUnknownStatus) ||
		errors.Is(err, payment.ErrAmbiguousReference) ||
		errors.Is(err, payment.ErrTransactionNotFound)

	if p.Mode != AckStrict {
		if permanent {
			return http.StatusOK, true
		}
		return http.StatusInternalServerError, false
	}

	switch {
	case errors.Is(err, payment.ErrTransactionNotFound):
		return http.StatusNotFound, false
	case permanent:
		return http.StatusBadRequest, false
	default:
		return http.StatusInternalServerError, false
	}
}
