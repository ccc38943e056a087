package tonapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/service/tier"
)

// Provider resolves TON transactions through tonapi.io.
type Provider struct {
	config Config
	client *http.Client
	logger *zerolog.Logger
}

type Config struct {
	// API endpoint (e.g. https://tonapi.io)
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func New(config Config, logger *zerolog.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = "https://tonapi.io"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	log := logger.With().Str("channel", "tonapi_provider").Logger()

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: &log,
	}
}

// GetTransaction implements oracle.Client for the ton network. TON
// reaches finality in a single block, so an included successful
// transaction reports one confirmation.
func (p *Provider) GetTransaction(ctx context.Context, currency tier.Currency, txHash string) (oracle.TxInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/v2/blockchain/transactions/"+txHash, nil)
	if err != nil {
		return oracle.TxInfo{}, errors.Wrap(err, "unable to create tonapi request")
	}

	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return oracle.TxInfo{}, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return oracle.TxInfo{}, oracle.ErrTxNotFound
	case resp.StatusCode != http.StatusOK:
		return oracle.TxInfo{}, errors.Wrapf(oracle.ErrUnavailable, "tonapi returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oracle.TxInfo{}, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}

	tx := gjson.ParseBytes(body)

	info := oracle.TxInfo{
		Hash:    txHash,
		Success: tx.Get("success").Bool(),
	}

	if tx.Get("utime").Int() > 0 {
		info.Confirmations = 1
	}

	nanotons := tx.Get("in_msg.value").Int()
	destination := tx.Get("in_msg.destination.address").String()
	if destination != "" {
		info.Outputs = []oracle.Output{{
			Address: destination,
			Amount:  decimal.NewFromInt(nanotons).Div(decimal.New(1, currency.Decimals)),
		}}
	}

	return info, nil
}
