package userlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond
	DefaultPrefix        = "bitmask:lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry only while the key still holds our token.
var extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a Redis backed Locker.
type RedisConfig struct {
	Addr     string `long:"addr" description:"Redis server address"`
	Password string `long:"password" description:"Redis password"`
	DB       int    `long:"db" description:"Redis database number"`

	// TTL bounds how long a crashed holder keeps a user locked. Live
	// holders extend it.
	TTL time.Duration `long:"ttl" description:"Lock expiry, extended while held"`

	RetryInterval time.Duration `long:"retryinterval" description:"Delay between acquisition attempts"`

	Prefix string `long:"prefix" description:"Key prefix of the locks"`
}

// Redis is a Locker shared by every process using the same Redis server.
// Locks are SET NX keys holding a random token, extended while held.
type Redis struct {
	client goredis.UniversalClient
	cfg    RedisConfig
}

var _ Locker = (*Redis)(nil)

// NewRedis creates a locker on an existing client.
func NewRedis(client goredis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	return &Redis{client: client, cfg: cfg}
}

// DialRedis connects to the configured server and checks it answers.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	log.Infof("Redis lock backend at %v (db %d)", cfg.Addr, cfg.DB)

	return NewRedis(client, cfg), nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(user string) string {
	return r.cfg.Prefix + user
}

func (r *Redis) tryLock(ctx context.Context, key, token string) (bool, error) {
	res, err := r.client.SetArgs(ctx, key, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  r.cfg.TTL,
	}).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis lock: %w", err)
	}

	return res == "OK", nil
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, user string) (Release, error) {
	key, token := r.key(user), uuid.NewString()

	for {
		ok, err := r.tryLock(ctx, key, token)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-time.After(r.cfg.RetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	log.Tracef("Locked %.8s", user)

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(key, token, quit)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			wg.Wait()

			if err := r.unlock(key, token); err != nil {
				log.Warnf("Releasing lock of %.8s: %v", user, err)
				return
			}
			log.Tracef("Unlocked %.8s", user)
		})
	}, nil
}

// keepAlive extends the lock until quit is closed.
func (r *Redis) keepAlive(key, token string, quit <-chan struct{}) {
	t := time.NewTicker(r.cfg.TTL / 3)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(
				context.Background(), r.cfg.TTL/3,
			)
			n, err := extendScript.Run(
				ctx, r.client, []string{key}, token,
				r.cfg.TTL.Milliseconds(),
			).Int()
			cancel()

			switch {
			case err != nil:
				log.Warnf("Extending lock %v: %v", key, err)
			case n == 0:
				log.Warnf("Lock %v expired while held", key)
				return
			}

		case <-quit:
			return
		}
	}
}

func (r *Redis) unlock(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL)
	defer cancel()

	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	switch {
	case err != nil:
		return fmt.Errorf("redis unlock: %w", err)
	case n == 0:
		return ErrNotHeld
	}

	return nil
}
