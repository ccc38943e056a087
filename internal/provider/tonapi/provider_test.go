package tonapi_test

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
	"github.com/telemart/telemart/internal/provider/tonapi"
	"github.com/telemart/telemart/internal/service/tier"
)

const (
	tonTxHash  = "97264395bd65a255a429b11326166b4de546e2f06f87d63c44ff9af4a0dbb9f5"
	tonAddress = "0:3333333333333333333333333333333333333333333333333333333333333333"
)

func stubTONAPI(t *testing.T, status int, body string) *tonapi.Provider {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)

	logger := zerolog.Nop()
	return tonapi.New(tonapi.Config{BaseURL: server.URL, APIKey: "test-key"}, &logger)
}

func TestGetTransaction(t *testing.T) {
	ton, err := tier.ResolveCurrency("TON")
	require.NoError(t, err)

	t.Run("parses an included transaction", func(t *testing.T) {
		// 5 TON = 5e9 nanotons
		body := `{"success":true,"utime":1700000000,"in_msg":{"value":5000000000,"destination":{"address":"` + tonAddress + `"}}}`

		provider := stubTONAPI(t, http.StatusOK, body)

		info, err := provider.GetTransaction(context.Background(), ton, tonTxHash)
		require.NoError(t, err)

		assert.True(t, info.Success)
		assert.Equal(t, int64(1), info.Confirmations)

		amount, found := info.AmountTo(ton, tonAddress)
		assert.True(t, found)
		assert.True(t, amount.Equal(decimal.NewFromInt(5)), amount.String())
	})

	t.Run("aborted transaction is not successful", func(t *testing.T) {
		body := `{"success":false,"utime":1700000000,"in_msg":{"value":5000000000,"destination":{"address":"` + tonAddress + `"}}}`

		provider := stubTONAPI(t, http.StatusOK, body)

		info, err := provider.GetTransaction(context.Background(), ton, tonTxHash)
		require.NoError(t, err)
		assert.False(t, info.Success)
	})

	t.Run("missing transaction", func(t *testing.T) {
		provider := stubTONAPI(t, http.StatusNotFound, `{"error":"transaction not found"}`)

		_, err := provider.GetTransaction(context.Background(), ton, tonTxHash)
		assert.ErrorIs(t, err, oracle.ErrTxNotFound)
	})

	t.Run("rate limited", func(t *testing.T) {
		provider := stubTONAPI(t, http.StatusTooManyRequests, ``)

		_, err := provider.GetTransaction(context.Background(), ton, tonTxHash)
		assert.ErrorIs(t, err, oracle.ErrUnavailable)
	})
}
