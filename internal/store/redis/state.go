// Package redis persists the trader's runtime state (last committed position
// snapshot, daily P&L counter) so a restart can warm-start reconciliation.
// The exchange remains ground truth: everything stored here is re-derivable
// and is discarded whenever it disagrees with the exchange.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"perptrader/internal/model"
)

const opTimeout = 5 * time.Second

// Config configures the state store connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// StateStore reads and writes trader state in Redis.
type StateStore struct {
	client *goredis.Client
	prefix string // "perptrader:{symbol}"
}

// New creates a StateStore for one symbol and pings the server.
func New(cfg Config, symbol string) (*StateStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &StateStore{client: client, prefix: "perptrader:" + symbol}, nil
}

// SavePosition stores the committed position snapshot. A nil position
// deletes the key (flat).
func (s *StateStore) SavePosition(ctx context.Context, pos *model.Position) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := s.prefix + ":position"
	if pos == nil {
		return s.client.Del(ctx, key).Err()
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// LoadPosition returns the stored position snapshot, nil if none exists.
func (s *StateStore) LoadPosition(ctx context.Context) (*model.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.prefix+":position").Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pos model.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &pos, nil
}

// SaveDailyPnL stores the daily loss-guard counter.
func (s *StateStore) SaveDailyPnL(ctx context.Context, day string, pnl float64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.client.HSet(ctx, s.prefix+":daily_pnl",
		"day", day,
		"pnl", strconv.FormatFloat(pnl, 'f', -1, 64),
	).Err()
}

// LoadDailyPnL returns the stored daily P&L counter. An empty day means
// nothing was stored.
func (s *StateStore) LoadDailyPnL(ctx context.Context) (day string, pnl float64, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vals, err := s.client.HGetAll(ctx, s.prefix+":daily_pnl").Result()
	if err != nil {
		return "", 0, err
	}
	if len(vals) == 0 {
		return "", 0, nil
	}
	pnl, err = strconv.ParseFloat(vals["pnl"], 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse stored pnl: %w", err)
	}
	return vals["day"], pnl, nil
}

// Close releases the underlying connection.
func (s *StateStore) Close() error {
	return s.client.Close()
}
