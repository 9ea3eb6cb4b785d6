package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "s", "g"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "s", "g"))
}

func TestPublishAndRead(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, CreateConsumerGroup(ctx, client, "s", "g"))

	_, err := PublishJSONToStream(ctx, client, "s", map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = PublishToStream(ctx, client, "s", map[string]interface{}{"n": 3, "ok": true})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "s", "g", "c1", 10, NoBlock)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	data, ok := msgs[0].Data()
	assert.True(t, ok)
	assert.JSONEq(t, `{"k":"v"}`, data)
	assert.Equal(t, "3", msgs[1].Values["n"])
	assert.Equal(t, "true", msgs[1].Values["ok"])

	require.NoError(t, Ack(ctx, client, "s", "g", msgs[0].ID, msgs[1].ID))

	msgs, err = ReadFromStream(ctx, client, "s", "g", "c1", 10, NoBlock)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
