package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"wompi-pay/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() payment.ProviderConfig {
	return payment.ProviderConfig{
		PublicKey:       "pub_test_abc",
		EventsKey:       "test_events_abc",
		IntegritySecret: "test_integrity_abc",
		State:           payment.StateTest,
	}
}

// signedBody builds a transaction.updated event signed with the test events key.
func signedBody(t *testing.T, id, reference, status string) []byte {
	t.Helper()
	const amount, timestamp = "2490000", "1530291411"
	checksum := payment.Sign(id + status + amount + timestamp + testConfig().EventsKey)

	body, err := json.Marshal(map[string]interface{}{
		"event": "transaction.updated",
		"data": map[string]interface{}{
			"transaction": map[string]interface{}{
				"id":              id,
				"reference":       reference,
				"amount_in_cents": 2490000,
				"status":          status,
			},
		},
		"environment": "test",
		"signature": map[string]interface{}{
			"checksum":   checksum,
			"properties": []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"},
		},
		"timestamp": 1530291411,
	})
	require.NoError(t, err)
	return body
}

func newTestHandler(svc *MockService, verifier payment.NotificationVerifier, repo *MockPaymentRepository) *Handler {
	return NewWebhookHandler(svc, verifier, repo, testConfig(), "https://shop.example.com")
}

func TestHandler_PaymentWebhookHandler(t *testing.T) {
	t.Run("Success_Approved", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)

		body := signedBody(t, "tx-1", "ORD-1", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.MatchedBy(func(ev *payment.WebhookEvent) bool {
			return ev.Provider == payment.ProviderCode &&
				ev.EventType == "transaction.updated" &&
				ev.Reference == "ORD-1" &&
				ev.SignatureValid
		})).Return(int64(1), nil)
		svc.On("HandleNotification", mock.Anything, mock.MatchedBy(func(n *payment.Notification) bool {
			return n.TransactionID == "tx-1" && n.Reference == "ORD-1" && n.Status == "APPROVED"
		})).Return(&payment.Transaction{Reference: "ORD-1", Status: payment.StatusDone}, nil)
		repo.On("MarkWebhookProcessed", mock.Anything, int64(1)).Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		svc.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("Invalid_Signature", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)

		// Signed for DECLINED, delivered as APPROVED.
		var env map[string]interface{}
		require.NoError(t, json.Unmarshal(signedBody(t, "tx-1", "ORD-1", "DECLINED"), &env))
		env["data"].(map[string]interface{})["transaction"].(map[string]interface{})["status"] = "APPROVED"
		body, _ := json.Marshal(env)

		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		svc.AssertNotCalled(t, "HandleNotification")
		repo.AssertNotCalled(t, "SaveWebhookEvent")
	})

	t.Run("Invalid_JSON", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)

		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBufferString("{invalid-json"))
		w := httptest.NewRecorder()

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "HandleNotification")
	})

	t.Run("Unknown_Reference_Lenient_Acks", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)

		body := signedBody(t, "tx-9", "GHOST", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(2), nil)
		svc.On("HandleNotification", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w %s", payment.ErrTransactionNotFound, "GHOST"))
		repo.On("MarkWebhookFailed", mock.Anything, int64(2), "wompi: no transaction found matching reference GHOST").Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("Unknown_Reference_Strict_Rejects", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)
		h.Policy = AckPolicy{Mode: AckStrict}

		body := signedBody(t, "tx-9", "GHOST", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(3), nil)
		svc.On("HandleNotification", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w %s", payment.ErrTransactionNotFound, "GHOST"))
		repo.On("MarkWebhookFailed", mock.Anything, int64(3), mock.Anything).Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Processing_Error", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)

		body := signedBody(t, "tx-1", "ORD-1", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(4), nil)
		svc.On("HandleNotification", mock.Anything, mock.Anything).Return(nil, errors.New("db error"))
		repo.On("MarkWebhookFailed", mock.Anything, int64(4), "db error").Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("Save_Webhook_Error_Still_Processes", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)

		body := signedBody(t, "tx-1", "ORD-1", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(0), errors.New("db error"))
		svc.On("HandleNotification", mock.Anything, mock.Anything).
			Return(&payment.Transaction{Reference: "ORD-1", Status: payment.StatusDone}, nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertNotCalled(t, "MarkWebhookProcessed", mock.Anything, mock.Anything)
	})

	t.Run("Duplicate_Inside_Replay_Window", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		replay := new(MockReplayGuard)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)
		h.Replay = replay

		body := signedBody(t, "tx-1", "ORD-1", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(5), nil)
		replay.On("Seen", mock.Anything, mock.Anything).Return(true, nil)
		repo.On("MarkWebhookProcessed", mock.Anything, int64(5)).Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertNotCalled(t, "HandleNotification")
	})

	t.Run("Replay_Key_Released_On_Failure", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		replay := new(MockReplayGuard)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)
		h.Replay = replay

		body := signedBody(t, "tx-1", "ORD-1", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(6), nil)
		replay.On("Seen", mock.Anything, mock.Anything).Return(false, nil)
		svc.On("HandleNotification", mock.Anything, mock.Anything).Return(nil, errors.New("db error"))
		replay.On("Release", mock.Anything, mock.Anything).Return(nil)
		repo.On("MarkWebhookFailed", mock.Anything, int64(6), "db error").Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		replay.AssertExpectations(t)
	})

	t.Run("Replay_Store_Down_Processes_Anyway", func(t *testing.T) {
		svc := new(MockService)
		repo := new(MockPaymentRepository)
		replay := new(MockReplayGuard)
		h := newTestHandler(svc, payment.NewVerifier(nil), repo)
		h.Replay = replay

		body := signedBody(t, "tx-1", "ORD-1", "APPROVED")
		req := httptest.NewRequest(http.MethodPost, payment.WebhookPath, bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		repo.On("SaveWebhookEvent", mock.Anything, mock.Anything).Return(int64(7), nil)
		replay.On("Seen", mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
		svc.On("HandleNotification", mock.Anything, mock.Anything).
			Return(&payment.Transaction{Reference: "ORD-1", Status: payment.StatusDone}, nil)
		repo.On("MarkWebhookProcessed", mock.Anything, int64(7)).Return(nil)

		h.PaymentWebhookHandler(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})
}

func TestHandler_ReturnHandler(t *testing.T) {
	t.Run("Empty_Query_Redirects_Without_Mutation", func(t *testing.T) {
		svc := new(MockService)
		verifier := new(MockVerifier)
		h := newTestHandler(svc, verifier, new(MockPaymentRepository))

		verifier.On("VerifyRedirect", mock.Anything, testConfig(), url.Values{}).Return(nil, nil)

		req := httptest.NewRequest(http.MethodGet, payment.ReturnPath, nil)
		w := httptest.NewRecorder()

		h.ReturnHandler(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, DefaultStatusPath, w.Header().Get("Location"))
		svc.AssertNotCalled(t, "HandleNotification")
	})

	t.Run("Verified_Redirect_Processed", func(t *testing.T) {
		svc := new(MockService)
		verifier := new(MockVerifier)
		h := newTestHandler(svc, verifier, new(MockPaymentRepository))

		n := &payment.Notification{Source: payment.SourceRedirect, TransactionID: "tx-1", Reference: "ORD-1", Status: "APPROVED"}
		verifier.On("VerifyRedirect", mock.Anything, testConfig(), url.Values{"id": {"tx-1"}, "env": {"test"}}).Return(n, nil)
		svc.On("HandleNotification", mock.Anything, n).
			Return(&payment.Transaction{Reference: "ORD-1", Status: payment.StatusDone}, nil)

		req := httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?id=tx-1&env=test", nil)
		w := httptest.NewRecorder()

		h.ReturnHandler(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, DefaultStatusPath, w.Header().Get("Location"))
		svc.AssertExpectations(t)
	})

	t.Run("Unverifiable_Origin_Still_Redirects", func(t *testing.T) {
		svc := new(MockService)
		verifier := new(MockVerifier)
		h := newTestHandler(svc, verifier, new(MockPaymentRepository))

		verifier.On("VerifyRedirect", mock.Anything, testConfig(), mock.Anything).
			Return(nil, fmt.Errorf("%w: 500", payment.ErrOriginUnverifiable))

		req := httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?id=forged", nil)
		w := httptest.NewRecorder()

		h.ReturnHandler(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		svc.AssertNotCalled(t, "HandleNotification")
	})

	t.Run("Processing_Error_Still_Redirects", func(t *testing.T) {
		svc := new(MockService)
		verifier := new(MockVerifier)
		h := newTestHandler(svc, verifier, new(MockPaymentRepository))
		h.StatusPath = "/shop/payment/result"

		n := &payment.Notification{TransactionID: "tx-1", Reference: "GHOST", Status: "APPROVED"}
		verifier.On("VerifyRedirect", mock.Anything, testConfig(), mock.Anything).Return(n, nil)
		svc.On("HandleNotification", mock.Anything, n).Return(nil, payment.ErrTransactionNotFound)

		req := httptest.NewRequest(http.MethodGet, payment.ReturnPath+"?id=tx-1", nil)
		w := httptest.NewRecorder()

		h.ReturnHandler(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/shop/payment/result", w.Header().Get("Location"))
	})
}

func TestHandler_CheckoutHandler(t *testing.T) {
	route := func(h *Handler) http.Handler {
		r := chi.NewRouter()
		r.Get("/payment/wompi/checkout/{reference}", h.CheckoutHandler)
		return r
	}

	t.Run("Success", func(t *testing.T) {
		svc := new(MockService)
		h := newTestHandler(svc, new(MockVerifier), new(MockPaymentRepository))

		payload := &payment.CheckoutPayload{PublicKey: "pub_test_abc", AmountInCents: 2490000, Currency: "COP", Reference: "ORD-1"}
		svc.On("Checkout", mock.Anything, testConfig(), "ORD-1", "https://shop.example.com").Return(payload, nil)

		req := httptest.NewRequest(http.MethodGet, "/payment/wompi/checkout/ORD-1", nil)
		w := httptest.NewRecorder()
		route(h).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got payment.CheckoutPayload
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, int64(2490000), got.AmountInCents)
		assert.Equal(t, "ORD-1", got.Reference)
	})

	errCases := []struct {
		name string
		err  error
		code int
	}{
		{"NotFound", fmt.Errorf("%w %s", payment.ErrTransactionNotFound, "ORD-1"), http.StatusNotFound},
		{"UnsupportedCurrency", fmt.Errorf("%w: USD", payment.ErrUnsupportedCurrency), http.StatusUnprocessableEntity},
		{"NegativeAmount", fmt.Errorf("%w for reference ORD-1", payment.ErrNegativeAmount), http.StatusUnprocessableEntity},
		{"Ambiguous", payment.ErrAmbiguousReference, http.StatusConflict},
		{"IncompleteConfig", payment.ErrIncompleteConfig, http.StatusInternalServerError},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockService)
			h := newTestHandler(svc, new(MockVerifier), new(MockPaymentRepository))

			svc.On("Checkout", mock.Anything, mock.Anything, "ORD-1", mock.Anything).Return(nil, tc.err)

			req := httptest.NewRequest(http.MethodGet, "/payment/wompi/checkout/ORD-1", nil)
			w := httptest.NewRecorder()
			route(h).ServeHTTP(w, req)

			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, w.Body.String(), http.StatusText(tc.code))
		})
	}
}

// --- Mocks ---

type MockService struct {
	mock.Mock
}

func (m *MockService) ResolveTransaction(ctx context.Context, n *payment.Notification) (*payment.Transaction, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockService) ApplyStatus(ctx context.Context, tx *payment.Transaction, status, providerReference string) error {
	return m.Called(ctx, tx, status, providerReference).Error(0)
}

func (m *MockService) HandleNotification(ctx context.Context, n *payment.Notification) (*payment.Transaction, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Transaction), args.Error(1)
}

func (m *MockService) Checkout(ctx context.Context, cfg payment.ProviderConfig, reference, baseURL string) (*payment.CheckoutPayload, error) {
	args := m.Called(ctx, cfg, reference, baseURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.CheckoutPayload), args.Error(1)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifyRedirect(ctx context.Context, cfg payment.ProviderConfig, query url.Values) (*payment.Notification, error) {
	args := m.Called(ctx, cfg, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Notification), args.Error(1)
}

func (m *MockVerifier) VerifyWebhook(ctx context.Context, cfg payment.ProviderConfig, body []byte) (*payment.Notification, error) {
	args := m.Called(ctx, cfg, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Notification), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) SaveWebhookEvent(ctx context.Context, event *payment.WebhookEvent) (int64, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) MarkWebhookProcessed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockPaymentRepository) MarkWebhookFailed(ctx context.Context, id int64, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

// Stubs
func (m *MockPaymentRepository) GetByID(ctx context.Context, id uint) (*payment.Transaction, error) {
	return nil, nil
}
func (m *MockPaymentRepository) FindByReference(ctx context.Context, providerCode, reference string) ([]*payment.Transaction, error) {
	return nil, nil
}
func (m *MockPaymentRepository) FindByProviderReference(ctx context.Context, providerCode, providerReference string) ([]*payment.Transaction, error) {
	return nil, nil
}
func (m *MockPaymentRepository) TransitionStatus(ctx context.Context, id uint, status payment.TransactionStatus, providerReference, stateMessage string) (bool, error) {
	return false, nil
}

type MockReplayGuard struct {
	mock.Mock
}

func (m *MockReplayGuard) Seen(ctx context.Context, n *payment.Notification) (bool, error) {
	args := m.Called(ctx, n)
	return args.Bool(0), args.Error(1)
}

func (m *MockReplayGuard) Release(ctx context.Context, n *payment.Notification) error {
	return m.Called(ctx, n).Error(0)
}
