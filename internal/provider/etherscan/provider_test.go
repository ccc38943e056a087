package etherscan_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/provider/etherscan"
	"github.com/telemart/telemart/internal/service/tier"
)

const (
	txHash    = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	recipient = "0xde0b295669a9fd93d5f28d9ec85e40f4cb697bae"
)

// stubEtherscan answers proxy actions with canned JSON bodies.
func stubEtherscan(t *testing.T, responses map[string]string) *etherscan.Provider {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		body, ok := responses[action]
		if !ok {
			t.Fatalf("unexpected action %q", action)
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)

	logger := zerolog.Nop()
	return etherscan.New(etherscan.Config{BaseURL: server.URL}, &logger)
}

func TestGetTransactionETH(t *testing.T) {
	eth, err := tier.ResolveCurrency("ETH")
	require.NoError(t, err)

	provider := stubEtherscan(t, map[string]string{
		// 1 ETH = 0xde0b6b3a7640000 wei
		"eth_getTransactionByHash": `{"result":{"hash":"` + txHash + `","to":"` + recipient + `","value":"0xde0b6b3a7640000","blockNumber":"0x64"}}`,
		"eth_getTransactionReceipt": `{"result":{"status":"0x1","blockNumber":"0x64","logs":[]}}`,
		"eth_blockNumber":           `{"result":"0x6e"}`,
	})

	info, err := provider.GetTransaction(context.Background(), eth, txHash)
	require.NoError(t, err)

	assert.True(t, info.Success)
	// blocks 0x64..0x6e inclusive
	assert.Equal(t, int64(11), info.Confirmations)

	amount, found := info.AmountTo(eth, recipient)
	assert.True(t, found)
	assert.True(t, amount.Equal(decimal.NewFromInt(1)), amount.String())
}

func TestGetTransactionUSDT(t *testing.T) {
	usdt, err := tier.ResolveCurrency("USDT")
	require.NoError(t, err)

	transferTopic := "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	paddedRecipient := "0x000000000000000000000000de0b295669a9fd93d5f28d9ec85e40f4cb697bae"

	provider := stubEtherscan(t, map[string]string{
		"eth_getTransactionByHash": `{"result":{"hash":"` + txHash + `","to":"0xdac17f958d2ee523a2206206994597c13d831ec7","value":"0x0","blockNumber":"0x64"}}`,
		// 25 USDT = 25000000 base units = 0x17d7840
		"eth_getTransactionReceipt": `{"result":{"status":"0x1","blockNumber":"0x64","logs":[
			{"address":"0xdac17f958d2ee523a2206206994597c13d831ec7",
			 "topics":["` + transferTopic + `","0x0000000000000000000000001111111111111111111111111111111111111111","` + paddedRecipient + `"],
			 "data":"0x17d7840"}
		]}}`,
		"eth_blockNumber": `{"result":"0x78"}`,
	})

	info, err := provider.GetTransaction(context.Background(), usdt, txHash)
	require.NoError(t, err)
	assert.True(t, info.Success)

	amount, found := info.AmountTo(usdt, recipient)
	assert.True(t, found)
	assert.True(t, amount.Equal(decimal.NewFromInt(25)), amount.String())
}

func TestGetTransactionNotFound(t *testing.T) {
	eth, err := tier.ResolveCurrency("ETH")
	require.NoError(t, err)

	provider := stubEtherscan(t, map[string]string{
		"eth_getTransactionByHash": `{"result":null}`,
	})

	_, err = provider.GetTransaction(context.Background(), eth, txHash)
	assert.ErrorIs(t, err, oracle.ErrTxNotFound)
}

func TestGetTransactionMempool(t *testing.T) {
	eth, err := tier.ResolveCurrency("ETH")
	require.NoError(t, err)

	provider := stubEtherscan(t, map[string]string{
		"eth_getTransactionByHash":  `{"result":{"hash":"` + txHash + `","to":"` + recipient + `","value":"0xde0b6b3a7640000"}}`,
		"eth_getTransactionReceipt": `{"result":null}`,
	})

	info, err := provider.GetTransaction(context.Background(), eth, txHash)
	require.NoError(t, err)
	assert.False(t, info.Success)
	assert.Zero(t, info.Confirmations)
}

func TestGetTransactionRPCError(t *testing.T) {
	eth, err := tier.ResolveCurrency("ETH")
	require.NoError(t, err)

	provider := stubEtherscan(t, map[string]string{
		"eth_getTransactionByHash": `{"error":{"message":"rate limit exceeded"}}`,
	})

	_, err = provider.GetTransaction(context.Background(), eth, txHash)
	assert.ErrorIs(t, err, oracle.ErrUnavailable)
}
