package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Redis keeps positions as plain Redis strings with no TTL.
type Redis struct {
	pool *redis.Pool
}

// NewRedis returns a store dialing addr, authenticating with password when
// it is non-empty. Connections are made lazily.
func NewRedis(addr, password string) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis checkpoint: address is required")
	}
	return NewRedisDial(func() (redis.Conn, error) {
		opts := []redis.DialOption{redis.DialConnectTimeout(5 * time.Second)}
		if password != "" {
			opts = append(opts, redis.DialPassword(password))
		}
		return redis.Dial("tcp", addr, opts...)
	}), nil
}

// NewRedisDial returns a store using dial for every new connection.
func NewRedisDial(dial func() (redis.Conn, error)) *Redis {
	return &Redis{pool: &redis.Pool{
		Dial:        dial,
		MaxIdle:     2,
		IdleTimeout: time.Minute,
	}}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	defer conn.Close()

	v, err := redis.String(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, key, value string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}
	defer conn.Close()

	res, err := redis.String(conn.Do("SET", key, value))
	if err != nil {
		return fmt.Errorf("redis put %q: %w", key, err)
	}
	if res != "OK" {
		return fmt.Errorf("redis put %q: expected 'OK', got '%s'", key, res)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", key); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

// Close releases pooled connections.
func (r *Redis) Close() error {
	return r.pool.Close()
}
