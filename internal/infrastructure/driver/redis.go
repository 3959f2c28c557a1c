package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisConfig connection options for RedisClient
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisClient .
type RedisClient struct {
	conn *redis.Client
}

var _ KeyValueDB = &RedisClient{}

// NewRedisClient create a redis client
func NewRedisClient(cfg *RedisConfig) *RedisClient {
	conn := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisClient{
		conn: conn,
	}
}

// NewRedisClientFrom wrap an existing go-redis client
func NewRedisClientFrom(conn *redis.Client) *RedisClient {
	return &RedisClient{conn: conn}
}

// Get implement KeyValueDB
func (rdb *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := rdb.conn.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

// Set implement KeyValueDB, entries never expire
func (rdb *RedisClient) Set(ctx context.Context, key string, value string) error {
	return rdb.conn.Set(ctx, key, value, 0).Err()
}

// Remove implement KeyValueDB
func (rdb *RedisClient) Remove(ctx context.Context, key string) error {
	return rdb.conn.Del(ctx, key).Err()
}

// Ping implement KeyValueDB
func (rdb *RedisClient) Ping(ctx context.Context) error {
	return rdb.conn.Ping(ctx).Err()
}

// Close release the connection pool
func (rdb *RedisClient) Close() error {
	return rdb.conn.Close()
}
