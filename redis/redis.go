package redis

import (
	"errors"
	"fmt"
	"time"

	"goeverbridge/logger"

	"github.com/gomodule/redigo/redis"
)

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// Store is a flat string key-value store.
type Store struct {
	pool *redis.Pool
	lggr logger.Logger
}

func NewPool(host string, port int) *redis.Pool {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	}
}

func New(pool *redis.Pool, lggr logger.Logger) *Store {
	return &Store{pool: pool, lggr: lggr.Named("redis")}
}

// Ping checks the connection, without persistence the service should not start.
func (s *Store) Ping() error {
	conn := s.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

// Get returns ok=false for missing keys.
func (s *Store) Get(key string) (string, bool, error) {
	conn := s.pool.Get()
	defer conn.Close()

	value, err := redis.String(conn.Do("GET", key))
	if err == nil {
		return value, true, nil
	}
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}

	s.lggr.Errorw("Error Redis GET", "key", key, "err", err)
	return "", false, err
}

func (s *Store) Set(key, value string) error {
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SET", key, value); err != nil {
		s.lggr.Errorw("Error Redis SET", "key", key, "err", err)
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}
