package etherscan

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/service/tier"
)

// USDT (ERC-20) contract on Ethereum mainnet.
const usdtContract = "0xdac17f958d2ee523a2206206994597c13d831ec7"

// keccak256("Transfer(address,address,uint256)")
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Provider resolves ETH and ERC-20 transactions through the Etherscan
// proxy API.
type Provider struct {
	config Config
	client *http.Client
	logger *zerolog.Logger
}

type Config struct {
	// API endpoint (e.g. https://api.etherscan.io/api)
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func New(config Config, logger *zerolog.Logger) *Provider {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.etherscan.io/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	log := logger.With().Str("channel", "etherscan_provider").Logger()

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

// GetTransaction implements oracle.Client for the ethereum network.
func (p *Provider) GetTransaction(ctx context.Context, currency tier.Currency, txHash string) (oracle.TxInfo, error) {
	tx, err := p.proxyCall(ctx, "eth_getTransactionByHash", txHash)
	if err != nil {
		return oracle.TxInfo{}, err
	}
	if !tx.Exists() || tx.Type == gjson.Null {
		return oracle.TxInfo{}, oracle.ErrTxNotFound
	}

	receipt, err := p.proxyCall(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return oracle.TxInfo{}, err
	}

	info := oracle.TxInfo{Hash: txHash}

	// A missing receipt means the tx is still in the mempool.
	if receipt.Exists() && receipt.Type != gjson.Null {
		info.Success = receipt.Get("status").String() == "0x1"

		confirmations, err := p.confirmations(ctx, receipt.Get("blockNumber").String())
		if err != nil {
			return oracle.TxInfo{}, err
		}
		info.Confirmations = confirmations
	}

	switch currency.Ticker {
	case "USDT":
		outputs, err := decodeTransferLogs(receipt.Get("logs"), currency.Decimals)
		if err != nil {
			return oracle.TxInfo{}, err
		}
		info.Outputs = outputs
	default:
		wei, err := parseHexBig(tx.Get("value").String())
		if err != nil {
			return oracle.TxInfo{}, errors.Wrap(err, "unable to parse tx value")
		}

		info.Outputs = []oracle.Output{{
			Address: tx.Get("to").String(),
			Amount:  decimal.NewFromBigInt(wei, -currency.Decimals),
		}}
	}

	return info, nil
}

// decodeTransferLogs extracts ERC-20 Transfer events addressed to the
// USDT contract.
func decodeTransferLogs(logs gjson.Result, decimals int32) ([]oracle.Output, error) {
	var outputs []oracle.Output
	var parseErr error

	logs.ForEach(func(_, log gjson.Result) bool {
		if !strings.EqualFold(log.Get("address").String(), usdtContract) {
			return true
		}

		topics := log.Get("topics").Array()
		if len(topics) != 3 || topics[0].String() != transferTopic {
			return true
		}

		// Recipient is the right-most 20 bytes of the second indexed topic.
		recipient := ethcommon.HexToAddress(topics[2].String()).Hex()

		value, err := parseHexBig(log.Get("data").String())
		if err != nil {
			parseErr = errors.Wrap(err, "unable to parse transfer value")
			return false
		}

		outputs = append(outputs, oracle.Output{
			Address: recipient,
			Amount:  decimal.NewFromBigInt(value, -decimals),
		})

		return true
	})

	if parseErr != nil {
		return nil, parseErr
	}

	return outputs, nil
}

func (p *Provider) confirmations(ctx context.Context, txBlockHex string) (int64, error) {
	if txBlockHex == "" {
		return 0, nil
	}

	txBlock, err := parseHexBig(txBlockHex)
	if err != nil {
		return 0, errors.Wrap(err, "unable to parse tx block number")
	}

	latest, err := p.proxyCall(ctx, "eth_blockNumber", "")
	if err != nil {
		return 0, err
	}

	latestBlock, err := parseHexBig(latest.String())
	if err != nil {
		return 0, errors.Wrap(err, "unable to parse latest block number")
	}

	confirmations := new(big.Int).Sub(latestBlock, txBlock)
	confirmations.Add(confirmations, big.NewInt(1))
	if confirmations.Sign() < 0 {
		return 0, nil
	}

	return confirmations.Int64(), nil
}

func (p *Provider) proxyCall(ctx context.Context, action, txHash string) (gjson.Result, error) {
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", action)
	if txHash != "" {
		params.Set("txhash", txHash)
	}
	if p.config.APIKey != "" {
		params.Set("apikey", p.config.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "unable to create etherscan request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return gjson.Result{}, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, errors.Wrapf(oracle.ErrUnavailable, "etherscan returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, errors.Wrap(oracle.ErrUnavailable, err.Error())
	}

	parsed := gjson.ParseBytes(body)
	if rpcErr := parsed.Get("error.message"); rpcErr.Exists() {
		return gjson.Result{}, errors.Wrapf(oracle.ErrUnavailable, "etherscan error: %s", rpcErr.String())
	}

	return parsed.Get("result"), nil
}

func parseHexBig(s string) (*big.Int, error) {
	raw := strings.TrimPrefix(s, "0x")
	if raw == "" {
		return big.NewInt(0), nil
	}

	value, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, errors.Errorf("invalid hex number %q", s)
	}

	return value, nil
}
