// Package lease serializes scheduler runs with a Redis key.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when another run holds the lease.
var ErrRunInProgress = errors.New("another scheduler run is in progress")

const releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// DefaultKey is the Redis key guarding scheduler runs.
const DefaultKey = "flow-scheduler:run"

// RunLease is a single-holder lock with a TTL so a crashed run cannot block
// later ones forever.
type RunLease struct {
	client   redis.UniversalClient
	key      string
	ttl      time.Duration
	newToken func() string
}

// New returns a RunLease held under key, DefaultKey when empty, for ttl.
func New(client redis.UniversalClient, key string, ttl time.Duration) *RunLease {
	if key == "" {
		key = DefaultKey
	}
	return &RunLease{
		client:   client,
		key:      key,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

// Acquire takes the lease or returns ErrRunInProgress. The returned release
// func only deletes the key if this holder still owns it.
func (l *RunLease) Acquire(ctx context.Context) (func(), error) {
	token := l.newToken()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("set lease key %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	release := func() {
		// released after the request context may already be done
		if err := l.release(context.Background(), token); err != nil {
			logrus.WithError(err).WithField("key", l.key).Warn("failed to release run lease")
		}
	}
	return release, nil
}

func (l *RunLease) release(ctx context.Context, token string) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("release failed, either lease expired or not the holder for key %s", l.key)
	}
	return nil
}
