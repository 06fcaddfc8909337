package payment

import (
	"context"
	"database/sql"
	"errors"
)

type Repository interface {
	GetByID(ctx context.Context, id uint) (*Transaction, error)
	FindByReference(ctx context.Context, providerCode, reference string) ([]*Transaction, error)
	FindByProviderReference(ctx context.Context, providerCode, providerReference string) ([]*Transaction, error)
	// TransitionStatus moves an open (draft/pending) transaction to status and
	// reports whether this call performed the write.
	TransitionStatus(
		ctx context.Context,
		id uint,
		status TransactionStatus,
		providerReference string,
		stateMessage string,
	) (bool, error)

	SaveWebhookEvent(ctx context.Context, event *WebhookEvent) (int64, error)
	MarkWebhookProcessed(ctx context.Context, webhookID int64) error
	MarkWebhookFailed(ctx context.Context, webhookID int64, reason string) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const transactionColumns = `
	id, reference, provider_code, provider_reference, amount, currency,
	status, state_message, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t            Transaction
		providerRef  sql.NullString
		stateMessage sql.NullString
		status       string
	)
	err := row.Scan(
		&t.ID, &t.Reference, &t.ProviderCode, &providerRef, &t.Amount, &t.Currency,
		&status, &stateMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ProviderReference = providerRef.String
	t.StateMessage = stateMessage.String
	t.Status = TransactionStatus(status)
	return &t, nil
}

func (r *repository) GetByID(ctx context.Context, id uint) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+`
		FROM payment_transactions WHERE id = $1`, id)

	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FindByReference returns at most two rows so callers can tell a unique
// match from an ambiguous one without loading everything.
func (r *repository) FindByReference(ctx context.Context, providerCode, reference string) ([]*Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE provider_code = $1 AND reference = $2
		LIMIT 2`, providerCode, reference)
}

func (r *repository) FindByProviderReference(ctx context.Context, providerCode, providerReference string) ([]*Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE provider_code = $1 AND provider_reference = $2
		LIMIT 2`, providerCode, providerReference)
}

func (r *repository) query(ctx context.Context, q string, args ...any) ([]*Transaction, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) TransitionStatus(
	ctx context.Context,
	id uint,
	status TransactionStatus,
	providerReference string,
	stateMessage string,
) (bool, error) {

	const q = `
	UPDATE payment_transactions
	SET status = $1,
		provider_reference = COALESCE(NULLIF($2, ''), provider_reference),
		state_message = $3,
		updated_at = now()
	WHERE id = $4 AND status IN ('draft', 'pending');
	`

	res, err := r.db.ExecContext(ctx, q, string(status), providerReference, stateMessage, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) SaveWebhookEvent(ctx context.Context, event *WebhookEvent) (int64, error) {
	const q = `
	INSERT INTO payment_webhooks (
		provider,
		event_type,
		transaction_id,
		reference,
		signature_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(
		ctx,
		q,
		event.Provider,
		event.EventType,
		event.TransactionID,
		event.Reference,
		event.SignatureValid,
		[]byte(event.Payload),
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	event.ID = id
	return id, nil
}

func (r *repository) MarkWebhookProcessed(
	ctx context.Context,
	webhookID int64,
) error {

	const q = `
	UPDATE payment_webhooks
	SET processed_at = now()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID)
	return err
}

func (r *repository) MarkWebhookFailed(
	ctx context.Context,
	webhookID int64,
	reason string,
) error {

	const q = `
	UPDATE payment_webhooks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, webhookID, reason)
	return err
}
