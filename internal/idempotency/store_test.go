package idempotency_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/idempotency"
)

func TestKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/orders", nil)
	assert.Empty(t, idempotency.Key(r))

	r.Header.Set(idempotency.Header, "  checkout-42 ")
	assert.Equal(t, "checkout-42", idempotency.Key(r))

	r.Header.Set(idempotency.Header, strings.Repeat("k", 256))
	assert.Empty(t, idempotency.Key(r), "oversized keys are ignored")
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}

	ctx := context.Background()
	client, err := idempotency.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := idempotency.NewRedisStore(client, time.Minute)
	key := uuid.Must(uuid.NewV4()).String()

	reserved, orderID, err := store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.True(t, reserved)

	reserved, orderID, err = store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.False(t, reserved, "a pending key cannot be claimed twice")
	assert.Empty(t, orderID)

	require.NoError(t, store.Complete(ctx, key, "order-1"))
	reserved, orderID, err = store.Reserve(ctx, key)
	require.NoError(t, err)
	assert.False(t, reserved)
	assert.Equal(t, "order-1", orderID)

	released := uuid.Must(uuid.NewV4()).String()
	reserved, _, err = store.Reserve(ctx, released)
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, store.Release(ctx, released))
	reserved, _, err = store.Reserve(ctx, released)
	require.NoError(t, err)
	assert.True(t, reserved, "a released key can be claimed again")
}
