package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wompi-pay/internal/logger"
	"wompi-pay/internal/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultHTTPTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// statusError is a non-2xx answer from the API. 4xx answers do not count
// against the circuit breaker: a forged id must not be able to open it.
type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("wompi api returned status %d: %s", e.code, string(e.body))
}

type wompiGateway struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// ----------------- Constructor -----------------

func NewWompiGateway(timeout time.Duration) Gateway {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &wompiGateway{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "wompi-api",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var se *statusError
				if errors.As(err, &se) {
					return se.code < http.StatusInternalServerError
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.L().Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

// ----------------- GetTransaction -----------------

// GetTransaction fetches the authoritative transaction record. It makes a
// single attempt; every failure is reported as ErrOriginUnverifiable.
func (g *wompiGateway) GetTransaction(ctx context.Context, cfg ProviderConfig, transactionID string) (*Envelope, error) {
	endpoint := cfg.APIURL() + "/transactions/" + url.PathEscape(transactionID)
	log := logger.FromCtx(ctx).With(
		zap.String("wompi_transaction_id", transactionID),
		zap.String("url", endpoint),
	)

	timer := metrics.StartTimer()
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.fetch(ctx, endpoint, cfg.PublicKey)
	})
	if err != nil {
		timer.ObserveDuration(metrics.OriginVerificationSeconds.WithLabelValues("error"))
		log.Error("Wompi transaction lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrOriginUnverifiable, err)
	}
	timer.ObserveDuration(metrics.OriginVerificationSeconds.WithLabelValues("ok"))

	env := res.(*Envelope)
	log.Info("Wompi transaction fetched")
	return env, nil
}

func (g *wompiGateway) fetch(ctx context.Context, endpoint, publicKey string) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+publicKey)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read wompi response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: bodyBytes}
	}

	var env Envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return nil, fmt.Errorf("failed decoding wompi response: %w", err)
	}
	return &env, nil
}
