// Package oracle answers "is transaction T paying address A with at least
// C confirmations" against external block explorers. Explorers are
// network-bound, rate-limited and occasionally down, so every lookup is
// wrapped with bounded retries and a per-attempt timeout.
package oracle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/telemart/telemart/internal/service/tier"
)

var (
	// ErrTxNotFound is terminal: the claimed hash does not exist on chain.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrUnavailable is retryable: the explorer failed to answer.
	ErrUnavailable = errors.New("ledger oracle unavailable")
)

// Output is one value transfer inside a transaction.
type Output struct {
	Address string
	Amount  decimal.Decimal
}

// TxInfo is the oracle's view of one on-chain transaction.
type TxInfo struct {
	Hash          string
	Confirmations int64
	Success       bool
	Outputs       []Output
}

// AmountTo returns the total amount the transaction pays to address,
// normalized per the currency's address casing rules.
func (t TxInfo) AmountTo(c tier.Currency, address string) (decimal.Decimal, bool) {
	want := c.NormalizeAddress(address)

	total := decimal.Zero
	found := false
	for _, out := range t.Outputs {
		if c.NormalizeAddress(out.Address) == want {
			total = total.Add(out.Amount)
			found = true
		}
	}

	return total, found
}

// Client looks a transaction up on one chain family.
type Client interface {
	GetTransaction(ctx context.Context, currency tier.Currency, txHash string) (TxInfo, error)
}

type Config struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Service routes lookups to per-network clients and applies the retry
// policy. It holds no locks and no state besides the client table.
type Service struct {
	clients map[string]Client
	cfg     Config
	logger  *zerolog.Logger
}

func New(cfg Config, logger *zerolog.Logger) *Service {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	log := logger.With().Str("channel", "ledger_oracle").Logger()

	return &Service{
		clients: map[string]Client{},
		cfg:     cfg,
		logger:  &log,
	}
}

// RegisterClient binds a client to a network name (e.g. "ethereum").
func (s *Service) RegisterClient(network string, client Client) {
	s.clients[network] = client
}

// LookupTransaction fetches tx state with bounded exponential-backoff
// retries. ErrTxNotFound is returned immediately; transport failures are
// retried and surface as ErrUnavailable after exhaustion.
func (s *Service) LookupTransaction(ctx context.Context, currency tier.Currency, txHash string) (TxInfo, error) {
	client, ok := s.clients[currency.Network]
	if !ok {
		return TxInfo{}, errors.Wrapf(ErrUnavailable, "no oracle client for network %q", currency.Network)
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.RetryBaseDelay << (attempt - 1)

			select {
			case <-ctx.Done():
				return TxInfo{}, errors.Wrap(ErrUnavailable, ctx.Err().Error())
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		info, err := client.GetTransaction(attemptCtx, currency, txHash)
		cancel()

		switch {
		case err == nil:
			return info, nil
		case errors.Is(err, ErrTxNotFound):
			return TxInfo{}, err
		default:
			lastErr = err
			s.logger.Warn().Err(err).
				Str("network", currency.Network).
				Str("tx_hash", txHash).
				Int("attempt", attempt+1).
				Msg("oracle lookup failed, will retry")
		}
	}

	return TxInfo{}, errors.Wrapf(ErrUnavailable, "lookup failed after %d attempts: %v", s.cfg.MaxRetries, lastErr)
}
