package store

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackend_LoadSave(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	b := NewRedisBackend(client, "")

	mock.ExpectGet("mindpulse:cache:abc").RedisNil()
	_, err := b.Load(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectSet("mindpulse:cache:abc", []byte(`[]`), 0).SetVal("OK")
	require.NoError(t, b.Save(ctx, "abc", []byte(`[]`)))

	mock.ExpectGet("mindpulse:cache:abc").SetVal(`[]`)
	data, err := b.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	mock.ExpectGet("mindpulse:cache:boom").SetErr(errors.New("connection refused"))
	_, err = b.Load(ctx, "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBackend_KeysPaginates(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	b := NewRedisBackend(client, "test:")

	mock.ExpectScan(0, "test:*", 100).SetVal([]string{"test:one", "test:two"}, 42)
	mock.ExpectScan(42, "test:*", 100).SetVal([]string{"test:three"}, 0)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Fingerprint{"one", "two", "three"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
