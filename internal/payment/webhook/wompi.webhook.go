package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"wompi-pay/internal/logger"
	"wompi-pay/internal/metrics"
	"wompi-pay/internal/payment"
	"wompi-pay/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	DefaultStatusPath = "/payment/status"

	maxBodyBytes = 1 << 20
)

type Handler struct {
	Svc      payment.Service
	Verifier payment.NotificationVerifier
	Repo     payment.Repository
	Config   payment.ProviderConfig
	Policy   AckPolicy
	// Replay is optional; nil disables the replay window.
	Replay     payment.ReplayGuard
	BaseURL    string
	StatusPath string
}

func NewWebhookHandler(
	svc payment.Service,
	verifier payment.NotificationVerifier,
	repo payment.Repository,
	cfg payment.ProviderConfig,
	baseURL string,
) *Handler {
	return &Handler{
		Svc:        svc,
		Verifier:   verifier,
		Repo:       repo,
		Config:     cfg,
		Policy:     AckPolicy{Mode: AckLenient},
		BaseURL:    baseURL,
		StatusPath: DefaultStatusPath,
	}
}

// ReturnHandler handles the customer coming back from checkout. The customer
// is always sent to the status page; verification failures are only logged.
func (h *Handler) ReturnHandler(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithFlow(r.Context(), string(payment.SourceRedirect))
	log := logger.FromCtx(ctx)
	query := r.URL.Query()

	log.Info("Handling redirection from Wompi", zap.Any("query", query))

	outcome := h.handleReturn(ctx, query)
	metrics.ObserveNotification(string(payment.SourceRedirect), outcome)

	http.Redirect(w, r, h.StatusPath, http.StatusSeeOther)
}

func (h *Handler) handleReturn(ctx context.Context, query url.Values) string {
	log := logger.FromCtx(ctx)

	n, err := h.Verifier.VerifyRedirect(ctx, h.Config, query)
	if err != nil {
		log.Error("Could not verify the origin of the redirect; discarding it", zap.Error(err))
		return "unverified"
	}
	if n == nil {
		// Customer cancelled or clicked "return to merchant" before paying.
		return "empty"
	}

	tx, err := h.Svc.HandleNotification(ctx, n)
	if err != nil {
		log.Error("Failed processing redirect notification",
			zap.String("reference", n.Reference),
			zap.Error(err),
		)
		return "failed"
	}

	log.Info("Redirect notification processed",
		zap.String("reference", tx.Reference),
		zap.String("status", string(tx.Status)),
	)
	return "processed"
}

// PaymentWebhookHandler handles server-to-server events. The response code is
// decided by h.Policy.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithFlow(r.Context(), string(payment.SourceWebhook))
	log := logger.FromCtx(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("Failed to read webhook body", zap.Error(err))
		metrics.ObserveNotification(string(payment.SourceWebhook), "unreadable")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	log.Info("Handling webhook from Wompi", zap.ByteString("payload", body))

	outcome, err := h.handleWebhook(ctx, body)
	metrics.ObserveNotification(string(payment.SourceWebhook), outcome)

	status, acked := h.Policy.StatusFor(err)
	switch {
	case err == nil:
	case acked:
		log.Warn("Acknowledging webhook that cannot be processed", zap.Error(err))
	default:
		log.Error("Rejecting webhook", zap.Int("status", status), zap.Error(err))
	}

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleWebhook(ctx context.Context, body []byte) (string, error) {
	log := logger.FromCtx(ctx)

	n, err := h.Verifier.VerifyWebhook(ctx, h.Config, body)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return "invalid_signature", err
		}
		return "rejected", err
	}

	webhookID := h.audit(ctx, n, body)

	if h.Replay != nil {
		seen, err := h.Replay.Seen(ctx, n)
		if err != nil {
			log.Warn("Replay window unavailable; processing anyway", zap.Error(err))
		} else if seen {
			log.Info("Duplicate Wompi event inside replay window; skipping",
				zap.String("wompi_transaction_id", n.TransactionID))
			h.markProcessed(ctx, webhookID)
			return "duplicate", nil
		}
	}

	tx, err := h.Svc.HandleNotification(ctx, n)
	if err != nil {
		if h.Replay != nil {
			if rerr := h.Replay.Release(ctx, n); rerr != nil {
				log.Warn("Failed releasing replay key", zap.Error(rerr))
			}
		}
		h.markFailed(ctx, webhookID, err)
		return "failed", err
	}

	h.markProcessed(ctx, webhookID)
	log.Info("Webhook processed",
		zap.String("reference", tx.Reference),
		zap.String("status", string(tx.Status)),
	)
	return "processed", nil
}

// audit stores the verified event. Failing to store it never blocks processing.
func (h *Handler) audit(ctx context.Context, n *payment.Notification, body []byte) int64 {
	if h.Repo == nil {
		return 0
	}

	id, err := h.Repo.SaveWebhookEvent(ctx, &payment.WebhookEvent{
		Provider:       payment.ProviderCode,
		EventType:      n.Event,
		TransactionID:  n.TransactionID,
		Reference:      n.Reference,
		Payload:        body,
		SignatureValid: n.Signed(),
	})
	if err != nil {
		logger.FromCtx(ctx).Warn("Failed saving webhook event", zap.Error(err))
		return 0
	}
	return id
}

func (h *Handler) markProcessed(ctx context.Context, webhookID int64) {
	if webhookID == 0 {
		return
	}
	if err := h.Repo.MarkWebhookProcessed(ctx, webhookID); err != nil {
		logger.FromCtx(ctx).Warn("Failed marking webhook processed", zap.Error(err))
	}
}

func (h *Handler) markFailed(ctx context.Context, webhookID int64, cause error) {
	if webhookID == 0 {
		return
	}
	if err := h.Repo.MarkWebhookFailed(ctx, webhookID, cause.Error()); err != nil {
		logger.FromCtx(ctx).Warn("Failed marking webhook failed", zap.Error(err))
	}
}

// CheckoutHandler returns the rendering values for GET /payment/wompi/checkout/{reference}.
func (h *Handler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithFlow(r.Context(), "checkout")
	reference := chi.URLParam(r, "reference")

	payload, err := h.Svc.Checkout(ctx, h.Config, reference, h.BaseURL)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, payment.ErrTransactionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, payment.ErrUnsupportedCurrency), errors.Is(err, payment.ErrNegativeAmount):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, payment.ErrAmbiguousReference):
			status = http.StatusConflict
		}
		logger.FromCtx(ctx).Warn("Checkout values unavailable",
			zap.String("reference", reference),
			zap.Int("status", status),
			zap.Error(err),
		)
		utils.WriteJSONError(w, http.StatusText(status), status)
		return
	}

	utils.WriteJSON(w, http.StatusOK, payload)
}
