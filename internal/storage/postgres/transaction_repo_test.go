package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestTransaction() *Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Transaction{
		ID:               "txn_" + uuid.NewString(),
		Type:             TypePayment,
		PaymentMandateID: "pm_001",
		CartMandateID:    "cart_001",
		PayerID:          "did:ap2:user:alice",
		MerchantID:       "did:ap2:merchant:acme",
		Amount:           9300,
		Currency:         "JPY",
		Status:           StatusCaptured,
		NetworkTxID:      strPtr("net_tx_42"),
		AuthCode:         strPtr("AUTH123"),
		RiskScore:        12,
		CreatedAt:        now,
	}
}

func columns() []string {
	return []string{"id", "type", "payment_mandate_id", "cart_mandate_id", "payer_id",
		"merchant_id", "amount", "currency", "status", "network_tx_id", "auth_code",
		"risk_score", "failure_reason", "original_tx_id", "created_at"}
}

func row(t *Transaction) *pgxmock.Rows {
	return pgxmock.NewRows(columns()).AddRow(
		t.ID, t.Type, t.PaymentMandateID, t.CartMandateID, t.PayerID, t.MerchantID,
		t.Amount, t.Currency, t.Status, t.NetworkTxID, t.AuthCode, t.RiskScore,
		t.FailureReason, t.OriginalTxID, t.CreatedAt,
	)
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txn.ID, txn.Type, txn.PaymentMandateID, txn.CartMandateID, txn.PayerID,
			txn.MerchantID, txn.Amount, txn.Currency, txn.Status, txn.NetworkTxID,
			txn.AuthCode, txn.RiskScore, txn.FailureReason, txn.OriginalTxID, txn.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(row(txn))

	got, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, txn, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs("txn_missing").
		WillReturnRows(pgxmock.NewRows(columns()))

	got, err := repo.GetByID(context.Background(), "txn_missing")
	require.NoError(t, err)
	assert.Nil(t, got, "missing row maps to nil, not error")
}

func TestTransactionRepo_GetByMandateID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectQuery("SELECT .+ FROM transactions").
		WithArgs(txn.PaymentMandateID).
		WillReturnRows(row(txn))

	got, err := repo.GetByMandateID(context.Background(), txn.PaymentMandateID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, txn.ID, got.ID)
}

func TestTransactionRepo_RefundExists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("txn_orig").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.RefundExists(context.Background(), "txn_orig")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTransactionRepo_CountRecentByPayer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	since := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("did:ap2:user:alice", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountRecentByPayer(context.Background(), "did:ap2:user:alice", since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestHealthCheck_Name(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	hc := NewHealthCheck(mock)
	assert.Equal(t, "postgresql", hc.Name())

	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	assert.NoError(t, hc.Ping(context.Background()))
}
