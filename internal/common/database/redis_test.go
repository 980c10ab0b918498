package database

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &RedisClient{Client: db}

	mock.ExpectGet("candidates:menu:sushi").SetVal(`[{"placeId":1}]`)

	val, err := client.Get(context.Background(), "candidates:menu:sushi")
	require.NoError(t, err)
	assert.Equal(t, `[{"placeId":1}]`, val)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisClient_SetWithExpiration(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &RedisClient{Client: db}

	mock.ExpectSet("pipeline:state:req-1", "snapshot", time.Hour).SetVal("OK")

	err := client.Set(context.Background(), "pipeline:state:req-1", "snapshot", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisClient_Del(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &RedisClient{Client: db}

	mock.ExpectDel("pipeline:state:req-1").SetVal(1)

	err := client.Del(context.Background(), "pipeline:state:req-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisClient_Ping(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := &RedisClient{Client: db}

	mock.ExpectPing().SetVal("PONG")

	assert.NoError(t, client.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
