package tier

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Currency describes a supported payment currency and its verification
// parameters.
type Currency struct {
	Ticker           string
	Name             string
	Network          string
	Decimals         int32
	MinConfirmations int64
	ExplorerURL      string
}

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidTxHash       = errors.New("invalid transaction hash")
	ErrInvalidAddress      = errors.New("invalid payment address")
)

var currencies = map[string]Currency{
	"BTC": {
		Ticker:           "BTC",
		Name:             "Bitcoin",
		Network:          "bitcoin",
		Decimals:         8,
		MinConfirmations: 3,
		ExplorerURL:      "https://blockchair.com/bitcoin/transaction",
	},
	"ETH": {
		Ticker:           "ETH",
		Name:             "Ethereum",
		Network:          "ethereum",
		Decimals:         18,
		MinConfirmations: 12,
		ExplorerURL:      "https://etherscan.io/tx",
	},
	"USDT": {
		Ticker:           "USDT",
		Name:             "Tether (ERC20)",
		Network:          "ethereum",
		Decimals:         6,
		MinConfirmations: 12,
		ExplorerURL:      "https://etherscan.io/tx",
	},
	"TON": {
		Ticker:           "TON",
		Name:             "Toncoin",
		Network:          "ton",
		Decimals:         9,
		MinConfirmations: 1,
		ExplorerURL:      "https://tonscan.org/tx",
	},
}

var (
	hexHash64          = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	tonFriendlyAddress = regexp.MustCompile(`^[A-Za-z0-9_-]{48}$`)
	tonRawAddress      = regexp.MustCompile(`^-?\d+:[0-9a-fA-F]{64}$`)
)

// ResolveCurrency returns the currency for ticker, case-insensitive.
func ResolveCurrency(ticker string) (Currency, error) {
	c, ok := currencies[strings.ToUpper(ticker)]
	if !ok {
		return Currency{}, errors.Wrapf(ErrUnsupportedCurrency, "%q", ticker)
	}

	return c, nil
}

// SupportedCurrencies lists all payment currencies in a stable order.
func SupportedCurrencies() []Currency {
	return []Currency{currencies["BTC"], currencies["ETH"], currencies["USDT"], currencies["TON"]}
}

// MinConfirmations returns the confirmation threshold for a currency.
func MinConfirmations(ticker string) (int64, error) {
	c, err := ResolveCurrency(ticker)
	if err != nil {
		return 0, err
	}

	return c.MinConfirmations, nil
}

// ValidateTxHash checks that hash matches the chain's hash format.
func (c Currency) ValidateTxHash(hash string) error {
	switch c.Network {
	case "ethereum":
		raw, ok := strings.CutPrefix(hash, "0x")
		if !ok || !hexHash64.MatchString(raw) {
			return errors.Wrapf(ErrInvalidTxHash, "%q is not an ethereum hash", hash)
		}
	case "bitcoin":
		if !hexHash64.MatchString(hash) {
			return errors.Wrapf(ErrInvalidTxHash, "%q is not a bitcoin txid", hash)
		}
	case "ton":
		if !hexHash64.MatchString(hash) && !isBase64Hash(hash) {
			return errors.Wrapf(ErrInvalidTxHash, "%q is not a TON hash", hash)
		}
	default:
		return errors.Wrapf(ErrInvalidTxHash, "no hash format for network %q", c.Network)
	}

	return nil
}

// ValidateAddress checks that addr is a plausible destination address on
// the currency's chain.
func (c Currency) ValidateAddress(addr string) error {
	switch c.Network {
	case "ethereum":
		if !ethcommon.IsHexAddress(addr) {
			return errors.Wrapf(ErrInvalidAddress, "%q is not an ethereum address", addr)
		}
	case "bitcoin":
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return errors.Wrapf(ErrInvalidAddress, "%q is not a bitcoin address", addr)
		}
	case "ton":
		if !tonFriendlyAddress.MatchString(addr) && !tonRawAddress.MatchString(addr) {
			return errors.Wrapf(ErrInvalidAddress, "%q is not a TON address", addr)
		}
	default:
		return errors.Wrapf(ErrInvalidAddress, "no address format for network %q", c.Network)
	}

	return nil
}

// NormalizeAddress lowercases hex addresses so comparisons are
// case-insensitive on chains with checksummed casing.
func (c Currency) NormalizeAddress(addr string) string {
	if c.Network == "ethereum" {
		return strings.ToLower(addr)
	}

	return addr
}

func isBase64Hash(s string) bool {
	if len(s) != 44 {
		return false
	}

	if _, err := base64.StdEncoding.DecodeString(s); err == nil {
		return true
	}

	_, err := base64.URLEncoding.DecodeString(s)
	return err == nil
}
