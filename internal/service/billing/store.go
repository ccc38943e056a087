package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/telemart/telemart/internal/service/shop"
	"github.com/telemart/telemart/internal/service/tier"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateTxHash is raised by the storage layer itself (unique
	// constraint), not by a check-then-write, so concurrent inserts for
	// the same hash cannot both succeed.
	ErrDuplicateTxHash = errors.New("transaction hash already recorded")
)

// PaymentStore is the durable record of accepted billing credits.
type PaymentStore interface {
	Create(ctx context.Context, params CreatePaymentParams) (*Payment, error)
	GetByTxHash(ctx context.Context, txHash string) (*Payment, error)
	CurrentForShop(ctx context.Context, shopID int64, now time.Time) (*Payment, error)
	ListByShop(ctx context.Context, shopID int64, limit int) ([]*Payment, error)
	Cancel(ctx context.Context, paymentID int64) error
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

// ShopStore is the durable record of shop subscription state. Implemented
// by shop.Service; faked in tests.
type ShopStore interface {
	GetByID(ctx context.Context, shopID int64) (*shop.Shop, error)
	ApplyCredit(ctx context.Context, shopID int64, t tier.Tier, nextPaymentDue time.Time) error
	StartGracePeriod(ctx context.Context, shopID int64, until, now time.Time) (bool, error)
	Deactivate(ctx context.Context, shopID int64, now time.Time) (bool, error)
	SetTier(ctx context.Context, shopID int64, t tier.Tier) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*shop.Shop, error)
	ListDueBetween(ctx context.Context, from, to time.Time) ([]*shop.Shop, error)
}

type CreatePaymentParams struct {
	ShopID      int64
	Tier        tier.Tier
	Amount      decimal.Decimal
	Currency    string
	TxHash      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// PgPaymentStore is the Postgres-backed PaymentStore.
type PgPaymentStore struct {
	db *pgxpool.Pool
}

func NewPgPaymentStore(db *pgxpool.Pool) *PgPaymentStore {
	return &PgPaymentStore{db: db}
}

const paymentColumns = `id, uuid, shop_id, tier, amount, currency, tx_hash,
	       period_start, period_end, status, created_at, verified_at`

func (s *PgPaymentStore) Create(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	query := `INSERT INTO shop_subscriptions
	          (uuid, shop_id, tier, amount, currency, tx_hash, period_start, period_end, status, created_at, verified_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	          RETURNING ` + paymentColumns

	var p Payment
	err := s.db.QueryRow(ctx, query,
		uuid.New(), params.ShopID, params.Tier, params.Amount, params.Currency,
		params.TxHash, params.PeriodStart, params.PeriodEnd, PaymentStatusActive,
	).Scan(
		&p.ID, &p.UUID, &p.ShopID, &p.Tier, &p.Amount, &p.Currency, &p.TxHash,
		&p.PeriodStart, &p.PeriodEnd, &p.Status, &p.CreatedAt, &p.VerifiedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateTxHash
		}
		return nil, errors.Wrap(err, "unable to create subscription payment")
	}

	return &p, nil
}

func (s *PgPaymentStore) GetByTxHash(ctx context.Context, txHash string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM shop_subscriptions WHERE tx_hash = $1`

	return s.scanOne(s.db.QueryRow(ctx, query, txHash))
}

// CurrentForShop returns the newest non-cancelled payment whose period is
// still running.
func (s *PgPaymentStore) CurrentForShop(ctx context.Context, shopID int64, now time.Time) (*Payment, error) {
	query := `SELECT ` + paymentColumns + `
	          FROM shop_subscriptions
	          WHERE shop_id = $1
	            AND status = $2
	            AND period_end > $3
	          ORDER BY period_end DESC
	          LIMIT 1`

	return s.scanOne(s.db.QueryRow(ctx, query, shopID, PaymentStatusActive, now))
}

func (s *PgPaymentStore) ListByShop(ctx context.Context, shopID int64, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + paymentColumns + `
	          FROM shop_subscriptions
	          WHERE shop_id = $1
	          ORDER BY created_at DESC
	          LIMIT $2`

	rows, err := s.db.Query(ctx, query, shopID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list payments")
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		err := rows.Scan(
			&p.ID, &p.UUID, &p.ShopID, &p.Tier, &p.Amount, &p.Currency, &p.TxHash,
			&p.PeriodStart, &p.PeriodEnd, &p.Status, &p.CreatedAt, &p.VerifiedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan payment")
		}
		payments = append(payments, &p)
	}

	return payments, nil
}

func (s *PgPaymentStore) Cancel(ctx context.Context, paymentID int64) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE shop_subscriptions SET status = $2 WHERE id = $1`,
		paymentID, PaymentStatusCancelled,
	)
	if err != nil {
		return errors.Wrap(err, "unable to cancel payment")
	}
	if ct.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

// ExpireLapsed ages active payment rows whose period has ended.
// Idempotent: already-expired rows match nothing.
func (s *PgPaymentStore) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.db.Exec(ctx,
		`UPDATE shop_subscriptions SET status = $1 WHERE status = $2 AND period_end < $3`,
		PaymentStatusExpired, PaymentStatusActive, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "unable to expire lapsed payments")
	}

	return ct.RowsAffected(), nil
}

func (s *PgPaymentStore) scanOne(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.UUID, &p.ShopID, &p.Tier, &p.Amount, &p.Currency, &p.TxHash,
		&p.PeriodStart, &p.PeriodEnd, &p.Status, &p.CreatedAt, &p.VerifiedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get payment")
	}

	return &p, nil
}
