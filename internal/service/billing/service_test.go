package billing

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemart/telemart/internal/bus"
	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/service/shop"
	"github.com/telemart/telemart/internal/service/tier"
)

const (
	ethAddress = "0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"
	ethTxHash  = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	ethTxHash2 = "0x4e3a3754410177e6937ef1f84bba68ea139e8d1a2258c5f85db9f1cd715a1bdd"
)

// Fakes

type fakePaymentStore struct {
	mu      sync.Mutex
	nextID  int64
	byHash  map[string]*Payment
	creates int

	// onCreate fires once at the start of the next Create, under the
	// store lock. Lets a test slip a competing row in after the caller's
	// duplicate pre-check has already passed.
	onCreate func()
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{byHash: map[string]*Payment{}}
}

func (s *fakePaymentStore) Create(_ context.Context, params CreatePaymentParams) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.onCreate != nil {
		hook := s.onCreate
		s.onCreate = nil
		hook()
	}

	s.creates++
	if _, ok := s.byHash[params.TxHash]; ok {
		return nil, ErrDuplicateTxHash
	}

	return s.insertLocked(params), nil
}

// insertLocked writes a payment row directly. Callers must hold mu.
func (s *fakePaymentStore) insertLocked(params CreatePaymentParams) *Payment {
	s.nextID++
	p := &Payment{
		ID:          s.nextID,
		ShopID:      params.ShopID,
		Tier:        params.Tier,
		Amount:      params.Amount,
		Currency:    params.Currency,
		TxHash:      params.TxHash,
		PeriodStart: params.PeriodStart,
		PeriodEnd:   params.PeriodEnd,
		Status:      PaymentStatusActive,
		CreatedAt:   time.Now(),
	}
	s.byHash[params.TxHash] = p

	return p
}

func (s *fakePaymentStore) GetByTxHash(_ context.Context, txHash string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.byHash[txHash]; ok {
		return p, nil
	}

	return nil, ErrPaymentNotFound
}

func (s *fakePaymentStore) CurrentForShop(_ context.Context, shopID int64, now time.Time) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Payment
	for _, p := range s.byHash {
		if p.ShopID != shopID || p.Status != PaymentStatusActive || !p.PeriodEnd.After(now) {
			continue
		}
		if current == nil || p.PeriodEnd.After(current.PeriodEnd) {
			current = p
		}
	}

	if current == nil {
		return nil, ErrPaymentNotFound
	}

	return current, nil
}

func (s *fakePaymentStore) ListByShop(_ context.Context, shopID int64, limit int) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payments []*Payment
	for _, p := range s.byHash {
		if p.ShopID == shopID {
			payments = append(payments, p)
		}
	}

	return payments, nil
}

func (s *fakePaymentStore) Cancel(_ context.Context, paymentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.byHash {
		if p.ID == paymentID {
			p.Status = PaymentStatusCancelled
			return nil
		}
	}

	return ErrPaymentNotFound
}

func (s *fakePaymentStore) ExpireLapsed(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for _, p := range s.byHash {
		if p.Status == PaymentStatusActive && p.PeriodEnd.Before(now) {
			p.Status = PaymentStatusExpired
			expired++
		}
	}

	return expired, nil
}

type fakeShopStore struct {
	mu    sync.Mutex
	shops map[int64]*shop.Shop
}

func newFakeShopStore(shops ...*shop.Shop) *fakeShopStore {
	s := &fakeShopStore{shops: map[int64]*shop.Shop{}}
	for _, sh := range shops {
		s.shops[sh.ID] = sh
	}

	return s
}

func (s *fakeShopStore) GetByID(_ context.Context, shopID int64) (*shop.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shops[shopID]
	if !ok {
		return nil, shop.ErrNotFound
	}

	copied := *sh
	return &copied, nil
}

func (s *fakeShopStore) ApplyCredit(_ context.Context, shopID int64, t tier.Tier, nextPaymentDue time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh := s.shops[shopID]
	sh.Tier = t
	sh.SubscriptionStatus = shop.StatusActive
	sh.NextPaymentDue = sql.NullTime{Time: nextPaymentDue, Valid: true}
	sh.GracePeriodUntil = sql.NullTime{}
	sh.RegistrationPaid = true
	sh.IsActive = true

	return nil
}

func (s *fakeShopStore) StartGracePeriod(_ context.Context, shopID int64, until, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh := s.shops[shopID]
	if sh.SubscriptionStatus != shop.StatusActive || !sh.NextPaymentDue.Valid || !sh.NextPaymentDue.Time.Before(now) {
		return false, nil
	}

	sh.SubscriptionStatus = shop.StatusGracePeriod
	sh.GracePeriodUntil = sql.NullTime{Time: until, Valid: true}

	return true, nil
}

func (s *fakeShopStore) Deactivate(_ context.Context, shopID int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh := s.shops[shopID]
	if sh.SubscriptionStatus != shop.StatusGracePeriod ||
		!sh.GracePeriodUntil.Valid || !sh.GracePeriodUntil.Time.Before(now) ||
		!sh.NextPaymentDue.Valid || !sh.NextPaymentDue.Time.Before(now) {
		return false, nil
	}

	sh.SubscriptionStatus = shop.StatusInactive
	sh.IsActive = false

	return true, nil
}

func (s *fakeShopStore) SetTier(_ context.Context, shopID int64, t tier.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shops[shopID].Tier = t
	return nil
}

func (s *fakeShopStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]*shop.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overdue []*shop.Shop
	for _, sh := range s.shops {
		if sh.SubscriptionStatus == shop.StatusInactive {
			continue
		}
		if sh.NextPaymentDue.Valid && sh.NextPaymentDue.Time.Before(now) {
			copied := *sh
			overdue = append(overdue, &copied)
		}
	}

	return overdue, nil
}

func (s *fakeShopStore) ListDueBetween(_ context.Context, from, to time.Time) ([]*shop.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*shop.Shop
	for _, sh := range s.shops {
		if sh.SubscriptionStatus != shop.StatusActive || !sh.NextPaymentDue.Valid {
			continue
		}
		if sh.NextPaymentDue.Time.After(from) && sh.NextPaymentDue.Time.Before(to) {
			copied := *sh
			due = append(due, &copied)
		}
	}

	return due, nil
}

type fakeOracle struct {
	mu    sync.Mutex
	txs   map[string]oracle.TxInfo
	errs  map[string]error
	calls int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{txs: map[string]oracle.TxInfo{}, errs: map[string]error{}}
}

func (o *fakeOracle) LookupTransaction(_ context.Context, _ tier.Currency, txHash string) (oracle.TxInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls++
	if err, ok := o.errs[txHash]; ok {
		return oracle.TxInfo{}, err
	}
	if tx, ok := o.txs[txHash]; ok {
		return tx, nil
	}

	return oracle.TxInfo{}, oracle.ErrTxNotFound
}

func (o *fakeOracle) confirmedTx(txHash, address string, amount float64, confirmations int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.txs[txHash] = oracle.TxInfo{
		Hash:          txHash,
		Confirmations: confirmations,
		Success:       true,
		Outputs: []oracle.Output{
			{Address: address, Amount: decimal.NewFromFloat(amount)},
		},
	}
}

// Fixture

type fixture struct {
	service  *Service
	payments *fakePaymentStore
	shops    *fakeShopStore
	oracle   *fakeOracle
	events   *bus.Bus
}

func newFixture(t *testing.T, shops ...*shop.Shop) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	payments := newFakePaymentStore()
	shopStore := newFakeShopStore(shops...)
	ledger := newFakeOracle()
	events := bus.New(&logger)

	lifecycle := NewLifecycle(shopStore, payments, events, &logger)
	service := New(payments, shopStore, ledger, lifecycle, &logger)

	return &fixture{
		service:  service,
		payments: payments,
		shops:    shopStore,
		oracle:   ledger,
		events:   events,
	}
}

func freeShop(id int64) *shop.Shop {
	return &shop.Shop{
		ID:                 id,
		Name:               "Test Shop",
		OwnerTelegramID:    9000 + id,
		Tier:               tier.Free,
		SubscriptionStatus: shop.StatusActive,
		PaymentAddress:     ethAddress,
		IsActive:           true,
	}
}

func setClock(t *testing.T, now time.Time) {
	t.Helper()

	clockNow = func() time.Time { return now }
	t.Cleanup(func() { clockNow = time.Now })
}

// Verify

func TestVerify(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("confirms and credits a valid payment", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 20)

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, result.Status)
		require.NotNil(t, result.Payment)
		assert.Equal(t, tier.Free, result.Payment.Tier)
		assert.Equal(t, now.Add(30*24*time.Hour), result.Payment.PeriodEnd)

		sh, err := f.shops.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, shop.StatusActive, sh.SubscriptionStatus)
		assert.True(t, sh.RegistrationPaid)
		require.True(t, sh.NextPaymentDue.Valid)
		assert.Equal(t, now.Add(30*24*time.Hour), sh.NextPaymentDue.Time)
	})

	t.Run("is idempotent for repeated claims", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 20)

		first, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			again, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
			require.NoError(t, err)
			assert.Equal(t, StatusConfirmed, again.Status)
			assert.Equal(t, first.Payment.ID, again.Payment.ID)
		}

		assert.Len(t, f.payments.byHash, 1)
		assert.Equal(t, 1, f.oracle.calls, "repeated claims must not hit the oracle")
	})

	t.Run("rejects a hash already credited to another shop", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1), freeShop(2))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 20)

		_, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)

		result, err := f.service.Verify(ctx, 2, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonConflictingClaim, result.Reason)
		assert.Len(t, f.payments.byHash, 1)
	})

	t.Run("fails underpaid declarations without an oracle call", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonUnderpaid, result.Reason)
		assert.Zero(t, f.oracle.calls)
	})

	t.Run("accepts received within slippage of declared", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 24.80, 20)

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, result.Status)
	})

	t.Run("fails when received is below the slippage floor", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 24.00, 20)

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonUnderpaid, result.Reason)
		assert.Empty(t, f.payments.byHash)
	})

	t.Run("fails when no output pays the shop address", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, "0x1111111111111111111111111111111111111111", 25.00, 20)

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonWrongAddress, result.Reason)
	})

	t.Run("reports pending below the confirmation threshold", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 5)

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, result.Status)
		assert.Equal(t, int64(5), result.Confirmations)
		assert.Equal(t, int64(12), result.Required)
		assert.Empty(t, f.payments.byHash, "pending claims must not be recorded")
	})

	t.Run("pending claim confirms on a later retry", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 5)

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, result.Status)

		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 12)

		result, err = f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, result.Status)
	})

	t.Run("fails unknown transactions", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonNotFound, result.Reason)
	})

	t.Run("fails reverted transactions", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.txs[ethTxHash] = oracle.TxInfo{
			Hash:          ethTxHash,
			Confirmations: 20,
			Success:       false,
			Outputs:       []oracle.Output{{Address: ethAddress, Amount: decimal.NewFromInt(25)}},
		}

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonNotFound, result.Reason)
	})

	t.Run("returns an error on oracle outage", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.errs[ethTxHash] = oracle.ErrUnavailable

		_, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.Error(t, err)
		assert.ErrorIs(t, err, oracle.ErrUnavailable)
		assert.Empty(t, f.payments.byHash)
	})

	t.Run("rejects unsupported currencies", func(t *testing.T) {
		f := newFixture(t, freeShop(1))

		result, err := f.service.Verify(ctx, 1, ethTxHash, "DOGE", decimal.NewFromInt(25))
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, ReasonUnsupportedCurrency, result.Reason)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		f := newFixture(t, freeShop(1))

		_, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects malformed hashes", func(t *testing.T) {
		f := newFixture(t, freeShop(1))

		_, err := f.service.Verify(ctx, 1, "nonsense", "USDT", decimal.NewFromInt(25))
		assert.ErrorIs(t, err, tier.ErrInvalidTxHash)
	})

	t.Run("errors on unknown shops", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Verify(ctx, 404, ethTxHash, "USDT", decimal.NewFromInt(25))
		assert.ErrorIs(t, err, shop.ErrNotFound)
	})

	t.Run("errors when the shop has no payment address", func(t *testing.T) {
		setClock(t, now)

		sh := freeShop(1)
		sh.PaymentAddress = ""

		f := newFixture(t, sh)

		_, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		assert.ErrorIs(t, err, ErrNoPaymentAddress)
	})

	t.Run("resolves a lost insert race from the winning record", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 20)

		// A concurrent request wins the insert after our pre-check found
		// nothing, so our own write hits the unique constraint.
		var winner *Payment
		f.payments.onCreate = func() {
			winner = f.payments.insertLocked(CreatePaymentParams{
				ShopID: 1, Tier: tier.Free, Amount: decimal.NewFromInt(25),
				Currency: "USDT", TxHash: ethTxHash,
				PeriodStart: now, PeriodEnd: now.Add(30 * 24 * time.Hour),
			})
		}

		result, err := f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
		require.NoError(t, err)
		require.NotNil(t, winner, "duplicate insert path was not reached")
		assert.Equal(t, StatusConfirmed, result.Status)
		assert.Equal(t, winner.ID, result.Payment.ID)
		assert.Len(t, f.payments.byHash, 1)
		assert.Equal(t, 1, f.payments.creates, "loser must answer from the winner, not retry the insert")
	})

	t.Run("both racing claims confirm with one recorded payment", func(t *testing.T) {
		setClock(t, now)

		f := newFixture(t, freeShop(1))
		f.oracle.confirmedTx(ethTxHash, ethAddress, 25.00, 20)

		results := make([]VerificationResult, 2)
		errs := make([]error, 2)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.service.Verify(ctx, 1, ethTxHash, "USDT", decimal.NewFromInt(25))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 2; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, StatusConfirmed, results[i].Status)
			require.NotNil(t, results[i].Payment)
			assert.Equal(t, results[0].Payment.PeriodEnd, results[i].Payment.PeriodEnd)
		}
		assert.Len(t, f.payments.byHash, 1)
	})
}
