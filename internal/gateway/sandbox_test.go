package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sandboxRequest(token, key string) ChargeRequest {
	return ChargeRequest{Token: token, Amount: 5000, Currency: "ILS", IdempotencyKey: key}
}

func TestSandbox_Charge(t *testing.T) {
	ctx := context.Background()

	t.Run("same key charges once", func(t *testing.T) {
		sb := NewSandbox(nil)
		first, err := sb.Charge(ctx, sandboxRequest("tok_4242", "k1"))
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, first.Status)

		second, err := sb.Charge(ctx, sandboxRequest("tok_4242", "k1"))
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 2, sb.Calls("k1"))
	})

	t.Run("decline card", func(t *testing.T) {
		sb := NewSandbox(nil)
		got, err := sb.Charge(ctx, sandboxRequest("tok_0002", "k2"))
		require.NoError(t, err)
		assert.Equal(t, StatusDeclined, got.Status)
		assert.Empty(t, got.ExternalRef)
	})

	t.Run("lost response then success", func(t *testing.T) {
		sb := NewSandbox(nil)
		got, err := sb.Charge(ctx, sandboxRequest("tok_0119", "k3"))
		require.NoError(t, err)
		assert.Equal(t, StatusIndeterminate, got.Status)

		status, err := sb.Status(ctx, "k3")
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, status.Status)

		retry, err := sb.Charge(ctx, sandboxRequest("tok_0119", "k3"))
		require.NoError(t, err)
		assert.Equal(t, status, retry)
	})

	t.Run("lost request", func(t *testing.T) {
		sb := NewSandbox(nil)
		got, err := sb.Charge(ctx, sandboxRequest("tok_0127", "k4"))
		require.NoError(t, err)
		assert.Equal(t, StatusIndeterminate, got.Status)

		status, err := sb.Status(ctx, "k4")
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, status.Status)
	})

	t.Run("key reuse with other amount", func(t *testing.T) {
		sb := NewSandbox(nil)
		_, err := sb.Charge(ctx, sandboxRequest("tok_4242", "k5"))
		require.NoError(t, err)
		req := sandboxRequest("tok_4242", "k5")
		req.Amount = 1
		got, err := sb.Charge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, StatusDeclined, got.Status)
	})

	t.Run("concurrent same key yields one charge", func(t *testing.T) {
		sb := NewSandbox(nil)
		refs := make([]string, 10)
		var wg sync.WaitGroup
		for i := range refs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, _ := sb.Charge(ctx, sandboxRequest("tok_4242", "k6"))
				refs[i] = got.ExternalRef
			}(i)
		}
		wg.Wait()
		for _, ref := range refs {
			assert.Equal(t, refs[0], ref)
		}
	})
}

func TestSandbox_Refund(t *testing.T) {
	ctx := context.Background()
	sb := NewSandbox(nil)
	charged, err := sb.Charge(ctx, sandboxRequest("tok_4242", "k1"))
	require.NoError(t, err)

	_, err = sb.Refund(ctx, charged.ExternalRef, 6000, "r1")
	assert.ErrorIs(t, err, ErrRefundFailed)

	got, err := sb.Refund(ctx, charged.ExternalRef, 5000, "r1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
	assert.True(t, sb.Refunded(charged.ExternalRef))

	_, err = sb.Refund(ctx, "ch_unknown", 1, "r2")
	assert.ErrorIs(t, err, ErrRefundFailed)
}
