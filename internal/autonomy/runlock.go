package autonomy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLock serializes planning runs across coordinator instances.
type RunLock interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// RedisRunLock takes a SETNX lease so only one instance plans a given
// day even when several replicas tick at the same time.
type RedisRunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisRunLock(addr, password, key string) *RedisRunLock {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisRunLock{client: c, key: key, ttl: 2 * time.Minute}
}

func (l *RedisRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, "1", l.ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		_ = l.client.Del(context.Background(), l.key).Err()
	}
	return release, true, nil
}

// LocalRunLock guards single-instance deployments with a channel
// semaphore.
type LocalRunLock struct {
	sem chan struct{}
}

func NewLocalRunLock() *LocalRunLock {
	l := &LocalRunLock{sem: make(chan struct{}, 1)}
	l.sem <- struct{}{}
	return l
}

func (l *LocalRunLock) Acquire(context.Context) (func(), bool, error) {
	select {
	case <-l.sem:
		return func() { l.sem <- struct{}{} }, true, nil
	default:
		return nil, false, nil
	}
}
