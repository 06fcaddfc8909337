package payment

import "errors"

var (
	ErrOriginUnverifiable  = errors.New("wompi: could not verify notification origin")
	ErrInvalidSignature    = errors.New("wompi: received data with invalid signature")
	ErrMissingData         = errors.New("wompi: received data with missing data")
	ErrMissingReference    = errors.New("wompi: received data with missing reference")
	ErrTransactionNotFound = errors.New("wompi: no transaction found matching reference")
	ErrAmbiguousReference  = errors.New("wompi: reference matches more than one transaction")
	ErrUnknownStatus       = errors.New("wompi: received data with unknown status")
	ErrMalformedPayload    = errors.New("wompi: malformed notification payload")
	ErrIncompleteConfig    = errors.New("wompi: provider configuration is incomplete")
	ErrUnsupportedCurrency = errors.New("wompi: currency not supported")
	ErrNegativeAmount      = errors.New("wompi: negative amount")
)
