package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agent-payments/pkg/apperror"
)

// Transaction statuses and types. The log is write-once: a refund is a
// new REFUND row referencing the original, never an update.
const (
	StatusCaptured = "captured"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"

	TypePayment = "PAYMENT"
	TypeRefund  = "REFUND"
)

// Transaction is one row of the processor's transaction log.
type Transaction struct {
	ID               string    `json:"transaction_id"`
	Type             string    `json:"type"`
	PaymentMandateID string    `json:"payment_mandate_id"`
	CartMandateID    string    `json:"cart_mandate_id"`
	PayerID          string    `json:"payer_id"`
	MerchantID       string    `json:"merchant_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	NetworkTxID      *string   `json:"network_transaction_id,omitempty"`
	AuthCode         *string   `json:"authorization_code,omitempty"`
	RiskScore        int       `json:"risk_score"`
	FailureReason    *string   `json:"failure_reason,omitempty"`
	OriginalTxID     *string   `json:"original_transaction_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// TransactionRepo is the write-once pgx-backed transaction log.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `id, type, payment_mandate_id, cart_mandate_id, payer_id, merchant_id,
	amount, currency, status, network_tx_id, auth_code, risk_score, failure_reason,
	original_tx_id, created_at`

// Create inserts a transaction row. Rows are never updated afterwards.
func (r *TransactionRepo) Create(ctx context.Context, t *Transaction) error {
	query := `INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.Type, t.PaymentMandateID, t.CartMandateID, t.PayerID, t.MerchantID,
		t.Amount, t.Currency, t.Status, t.NetworkTxID, t.AuthCode, t.RiskScore,
		t.FailureReason, t.OriginalTxID, t.CreatedAt,
	)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("insert transaction: %w", err))
	}
	return nil
}

// GetByID fetches a transaction by its processor-generated id.
func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return r.scan(r.pool.QueryRow(ctx, query, id))
}

// GetByMandateID fetches the payment row for a payment mandate, if any.
func (r *TransactionRepo) GetByMandateID(ctx context.Context, mandateID string) (*Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE payment_mandate_id = $1 AND type = 'PAYMENT'
		ORDER BY created_at DESC LIMIT 1`
	return r.scan(r.pool.QueryRow(ctx, query, mandateID))
}

// RefundExists reports whether a non-failed refund references the
// original transaction.
func (r *TransactionRepo) RefundExists(ctx context.Context, originalTxID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM transactions
		WHERE original_tx_id = $1 AND type = 'REFUND' AND status != 'failed')`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, originalTxID).Scan(&exists); err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("check refund exists: %w", err))
	}
	return exists, nil
}

// CountRecentByPayer returns the number of transactions for a payer since
// the cutoff, feeding the velocity risk factor.
func (r *TransactionRepo) CountRecentByPayer(ctx context.Context, payerID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE payer_id = $1 AND created_at >= $2`

	var n int
	if err := r.pool.QueryRow(ctx, query, payerID, since).Scan(&n); err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("count recent transactions: %w", err))
	}
	return n, nil
}

func (r *TransactionRepo) scan(row pgx.Row) (*Transaction, error) {
	t := &Transaction{}
	err := row.Scan(
		&t.ID, &t.Type, &t.PaymentMandateID, &t.CartMandateID, &t.PayerID, &t.MerchantID,
		&t.Amount, &t.Currency, &t.Status, &t.NetworkTxID, &t.AuthCode, &t.RiskScore,
		&t.FailureReason, &t.OriginalTxID, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("scan transaction: %w", err))
	}
	return t, nil
}
