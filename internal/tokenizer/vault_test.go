package tokenizer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(VaultConfig{Secret: "test-secret", Salt: "test-salt"})
	require.NoError(t, err)
	v.now = func() time.Time { return time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC) }
	return v
}

func TestVault_Tokenize(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		tok, err := v.Tokenize(ctx, CardDetails{Number: "4242424242424242", Expiry: "12/28", CVV: "123"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(tok.Token, "tok_"))
		assert.NotContains(t, tok.Token, "4242424242424242")
		assert.Equal(t, "**** **** **** 4242", tok.MaskedNumber)
		assert.Equal(t, "1228", tok.Expiry)

		info, err := v.Inspect(tok.Token)
		require.NoError(t, err)
		assert.Equal(t, "4242", info.Last4)
		assert.Equal(t, "1228", info.Expiry)

		last4, err := v.Last4(tok.Token)
		require.NoError(t, err)
		assert.Equal(t, "4242", last4)
	})

	t.Run("same card same fingerprint, different tokens", func(t *testing.T) {
		card := CardDetails{Number: "4000000000000002", Expiry: "0130", CVV: "999"}
		a, err := v.Tokenize(ctx, card)
		require.NoError(t, err)
		b, err := v.Tokenize(ctx, card)
		require.NoError(t, err)
		assert.NotEqual(t, a.Token, b.Token)

		ia, _ := v.Inspect(a.Token)
		ib, _ := v.Inspect(b.Token)
		assert.Equal(t, ia.Fingerprint, ib.Fingerprint)
		assert.Equal(t, "0002", ia.Last4)
	})

	t.Run("invalid card", func(t *testing.T) {
		_, err := v.Tokenize(ctx, CardDetails{Number: "1234", Expiry: "1228", CVV: "123"})
		assert.ErrorIs(t, err, ErrInvalidCardData)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := v.Tokenize(cctx, CardDetails{Number: "4242424242424242", Expiry: "1228", CVV: "123"})
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	})
}

func TestVault_Inspect(t *testing.T) {
	v := newTestVault(t)
	tok, err := v.Tokenize(context.Background(), CardDetails{Number: "4242424242424242", Expiry: "1228", CVV: "123"})
	require.NoError(t, err)

	other, err := NewVault(VaultConfig{Secret: "other-secret"})
	require.NoError(t, err)
	_, err = other.Inspect(tok.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = v.Inspect("pm_123")
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = v.Inspect("tok_!!!")
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = NewVault(VaultConfig{})
	assert.Error(t, err)
}
