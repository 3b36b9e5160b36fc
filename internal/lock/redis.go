package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// unlockScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by another process is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the key still carries our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key.
	Prefix string
	// TTL bounds how long a crashed holder can keep a key. Live holders
	// renew their keys every TTL/3.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// RedisLocker is a Locker shared by every scheduler process that points at
// the same Redis instance.
type RedisLocker struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, opts RedisOptions) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: connect to redis at %s: %w", opts.Addr, err)
	}

	return newRedisLocker(client, opts), nil
}

func newRedisLocker(client *redis.Client, opts RedisOptions) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "class-scheduler:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisLocker{
		client:        client,
		prefix:        opts.Prefix,
		ttl:           opts.TTL,
		retryInterval: opts.RetryInterval,
		logger:        opts.Logger.With("component", "RedisLocker"),
	}
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Lock acquires every key with SET NX PX, retrying until ctx is done. The
// keys are renewed in the background until unlock is called.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := sortKeys(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(ordered))

	for _, key := range ordered {
		redisKey := l.prefix + key
		if err := l.acquire(ctx, redisKey, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, redisKey)
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.renew(held, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			l.release(held, token)
		})
	}, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return lockError(ctx.Err())
			}
			return fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return lockError(ctx.Err())
		case <-ticker.C:
		}
	}
}

// release drops held keys in reverse acquisition order.
func (l *RedisLocker) release(held []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if err := unlockScript.Run(ctx, l.client, []string{held[i]}, token).Err(); err != nil {
			l.logger.WarnContext(ctx, "failed to release lock", "key", held[i], "error", err)
		}
	}
}

// renew pushes the expiry of every held key forward each TTL/3 until stop is
// closed. A key whose token no longer matches has been lost to expiry and is
// not renewed again.
func (l *RedisLocker) renew(held []string, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	live := append([]string(nil), held...)
	for len(live) > 0 {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		kept := live[:0]
		for _, key := range live {
			ok, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			switch {
			case err != nil:
				l.logger.WarnContext(ctx, "failed to renew lock", "key", key, "error", err)
				kept = append(kept, key)
			case ok == 0:
				l.logger.ErrorContext(ctx, "lock lease lost before unlock", "key", key)
			default:
				kept = append(kept, key)
			}
		}
		cancel()
		live = kept
	}
	<-stop
}
