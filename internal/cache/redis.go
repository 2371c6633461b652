// Package cache wraps the Redis client used for state that must survive a
// restart, currently the pre-lockdown slowmode backups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	slowmodeBackupPrefix = "security:slowmode_backup:"
	slowmodeBackupTTL    = 24 * time.Hour
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient connects and pings Redis.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", opts.Addr))
	return &Client{rdb: rdb, logger: logger}, nil
}

// Save stores the guild's prior per-channel slowmode values.
func (c *Client) Save(ctx context.Context, guildID string, prior map[string]int) error {
	payload, err := json.Marshal(prior)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, slowmodeBackupPrefix+guildID, payload, slowmodeBackupTTL).Err()
}

// Load returns the stored backup; ok is false when none exists.
func (c *Client) Load(ctx context.Context, guildID string) (map[string]int, bool, error) {
	raw, err := c.rdb.Get(ctx, slowmodeBackupPrefix+guildID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	prior := map[string]int{}
	if err := json.Unmarshal(raw, &prior); err != nil {
		return nil, false, fmt.Errorf("decode slowmode backup: %w", err)
	}
	return prior, true, nil
}

func (c *Client) Clear(ctx context.Context, guildID string) error {
	return c.rdb.Del(ctx, slowmodeBackupPrefix+guildID).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
