package payment

import (
	"context"
	"fmt"

	"wompi-pay/internal/logger"

	"go.uber.org/zap"
)

type Service interface {
	ResolveTransaction(ctx context.Context, n *Notification) (*Transaction, error)
	ApplyStatus(ctx context.Context, tx *Transaction, status, providerReference string) error
	HandleNotification(ctx context.Context, n *Notification) (*Transaction, error)
	Checkout(ctx context.Context, cfg ProviderConfig, reference, baseURL string) (*CheckoutPayload, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// targetStatus maps the gateway vocabulary onto transaction states.
func targetStatus(gatewayStatus string) (TransactionStatus, error) {
	switch gatewayStatus {
	case GatewayApproved:
		return StatusDone, nil
	case GatewayDeclined, GatewayError, GatewayVoided:
		return StatusCanceled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, gatewayStatus)
	}
}

// ResolveTransaction prefers the gateway transaction id recorded on an earlier
// notification and falls back to the merchant reference.
func (s *service) ResolveTransaction(ctx context.Context, n *Notification) (*Transaction, error) {
	if n.TransactionID != "" {
		txs, err := s.repo.FindByProviderReference(ctx, ProviderCode, n.TransactionID)
		if err != nil {
			return nil, err
		}
		if len(txs) == 1 {
			return txs[0], nil
		}
	}

	if n.Reference == "" {
		return nil, ErrMissingReference
	}

	txs, err := s.repo.FindByReference(ctx, ProviderCode, n.Reference)
	if err != nil {
		return nil, err
	}
	switch len(txs) {
	case 0:
		return nil, fmt.Errorf("%w %s", ErrTransactionNotFound, n.Reference)
	case 1:
		return txs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousReference, n.Reference)
	}
}

// ApplyStatus drives an open transaction to done or cancel. Re-applying the
// state the transaction is already in is a no-op. A notification contradicting
// a terminal state is logged and ignored.
func (s *service) ApplyStatus(ctx context.Context, tx *Transaction, status, providerReference string) error {
	target, err := targetStatus(status)
	if err != nil {
		return err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("reference", tx.Reference),
		zap.String("from", string(tx.Status)),
		zap.String("to", string(target)),
	)

	if tx.Status == target {
		log.Info("Transaction already in target state")
		return nil
	}
	if !tx.Status.IsOpen() {
		log.Warn("Ignoring notification for closed transaction", zap.String("gateway_status", status))
		return nil
	}

	written, err := s.repo.TransitionStatus(ctx, tx.ID, target, providerReference, "Wompi: "+status)
	if err != nil {
		log.Error("Failed updating transaction status", zap.Error(err))
		return err
	}

	if !written {
		// Another delivery closed the row between our read and the update.
		current, err := s.repo.GetByID(ctx, tx.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w %s", ErrTransactionNotFound, tx.Reference)
		}
		*tx = *current
		if current.Status != target {
			log.Warn("Concurrent notification closed transaction differently",
				zap.String("current", string(current.Status)))
		}
		return nil
	}

	tx.Status = target
	if providerReference != "" {
		tx.ProviderReference = providerReference
	}
	log.Info("Transaction status updated")
	return nil
}

func (s *service) HandleNotification(ctx context.Context, n *Notification) (*Transaction, error) {
	tx, err := s.ResolveTransaction(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyStatus(ctx, tx, n.Status, n.TransactionID); err != nil {
		return nil, err
	}
	return tx, nil
}

// Checkout filters the transaction the way the host's provider listing does
// (currency support, complete keys) and builds the checkout values.
func (s *service) Checkout(ctx context.Context, cfg ProviderConfig, reference, baseURL string) (*CheckoutPayload, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	txs, err := s.repo.FindByReference(ctx, ProviderCode, reference)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w %s", ErrTransactionNotFound, reference)
	}
	if len(txs) > 1 {
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousReference, reference)
	}

	tx := txs[0]
	if !SupportsCurrency(tx.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, tx.Currency)
	}
	if tx.Amount.IsNegative() {
		return nil, fmt.Errorf("%w for reference %s", ErrNegativeAmount, reference)
	}

	return BuildCheckoutPayload(tx, cfg, baseURL), nil
}
