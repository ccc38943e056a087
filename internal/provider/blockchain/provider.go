package blockchain

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/service/tier"
)

// Provider resolves Bitcoin transactions through the blockchain.info
// raw data API.
type Provider struct {
	config Config
	client *http.Client
	logger *zerolog.Logger
}

type Config struct {
	// API endpoint (e.g. https://blockchain.info)
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func New(config Config, logger *zerolog.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = "https://blockchain.info"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	log := logger.With().Str("channel", "blockchain_provider").Logger()

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

// GetTransaction implements oracle.Client for the bitcoin network.
func (p *Provider) GetTransaction(ctx context.Context, currency tier.Currency, txHash string) (oracle.TxInfo, error) {
	tx, err := p.get(ctx, "/rawtx/"+txHash)
	if err != nil {
		return oracle.TxInfo{}, err
	}

	info := oracle.TxInfo{
		Hash: txHash,
		// A mined bitcoin transaction has no failure mode.
		Success: true,
	}

	satsPerCoin := decimal.New(1, currency.Decimals)

	tx.Get("out").ForEach(func(_, out gjson.Result) bool {
		addr := out.Get("addr").String()
		if addr == "" {
			return true
		}

		info.Outputs = append(info.Outputs, oracle.Output{
			Address: addr,
			Amount:  decimal.NewFromInt(out.Get("value").Int()).Div(satsPerCoin),
		})

		return true
	})

	if height := tx.Get("block_height"); height.Exists() && height.Int() > 0 {
		tip, err := p.blockCount(ctx)
		if err != nil {
			return oracle.TxInfo{}, err
		}

		info.Confirmations = tip - height.Int() + 1
		if info.Confirmations < 0 {
			info.Confirmations = 0
		}
	}

	return info, nil
}

func (p *Provider) blockCount(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/q/getblockcount", nil)
	if err != nil {
		return 0, errors.Wrap(err, "unable to create block count request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}

	count, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(oracle.ErrUnavailable, "unexpected block count response %q", body)
	}

	return count, nil
}

func (p *Provider) get(ctx context.Context, path string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+path, nil)
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "unable to create blockchain.info request")
	}

	if p.config.APIKey != "" {
		q := req.URL.Query()
		q.Set("apikey", p.config.APIKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return gjson.Result{}, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, oracle.ErrTxNotFound
	case resp.StatusCode != http.StatusOK:
		return gjson.Result{}, errors.Wrapf(oracle.ErrUnavailable, "blockchain.info returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}

	return gjson.ParseBytes(body), nil
}
