// Package sequencer serializes billing event processing per tenant so two
// concurrent deliveries for the same organization never interleave.
package sequencer

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/couture/internal/billing/domain"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const retryInterval = 25 * time.Millisecond

// Sequencer grants per-organization exclusive sections. Acquisition is
// bounded: callers waiting longer than the configured timeout get
// ErrLockTimeout and must let the provider retry the delivery.
type Sequencer interface {
	Acquire(ctx context.Context, orgKey string) (release func(), err error)
}

// RedisSequencer coordinates across processes with SETNX plus a
// compare-and-delete release so an expired holder cannot release a lock
// someone else now owns.
type RedisSequencer struct {
	client         *redis.Client
	script         *redis.Script
	lockTTL        time.Duration
	acquireTimeout time.Duration
}

func NewRedis(client *redis.Client, lockTTL, acquireTimeout time.Duration) *RedisSequencer {
	return &RedisSequencer{
		client:         client,
		script:         redis.NewScript(lockReleaseScript),
		lockTTL:        lockTTL,
		acquireTimeout: acquireTimeout,
	}
}

func (s *RedisSequencer) Acquire(ctx context.Context, orgKey string) (func(), error) {
	key := fmt.Sprintf("couture:billing:seq:%s", orgKey)
	token := uuid.NewString()

	deadline := time.Now().Add(s.acquireTimeout)
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("sequencer acquire: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = s.script.Run(releaseCtx, s.client, []string{key}, token).Err()
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, domain.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// LocalSequencer serves single-process deployments and tests with a striped
// mutex registry. It honors the same bounded-acquire contract.
type LocalSequencer struct {
	acquireTimeout time.Duration
	stripes        []chan struct{}
}

func NewLocal(acquireTimeout time.Duration) *LocalSequencer {
	s := &LocalSequencer{
		acquireTimeout: acquireTimeout,
		stripes:        make([]chan struct{}, 128),
	}
	for i := range s.stripes {
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		s.stripes[i] = ch
	}
	return s
}

func (s *LocalSequencer) Acquire(ctx context.Context, orgKey string) (func(), error) {
	h := fnv.New32a()
	h.Write([]byte(orgKey))
	stripe := s.stripes[h.Sum32()%uint32(len(s.stripes))]

	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()

	select {
	case <-stripe:
		var once sync.Once
		return func() {
			once.Do(func() { stripe <- struct{}{} })
		}, nil
	case <-timer.C:
		return nil, domain.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
