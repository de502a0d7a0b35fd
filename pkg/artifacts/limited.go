package artifacts

import (
	"context"

	"golang.org/x/time/rate"
)

// LimitedStore throttles every backend call through a token bucket.
type LimitedStore struct {
	next    Store
	limiter *rate.Limiter
}

// NewLimitedStore allows perSecond operations with the given burst.
func NewLimitedStore(next Store, perSecond float64, burst int) *LimitedStore {
	if burst < 1 {
		burst = 1
	}
	return &LimitedStore{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *LimitedStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return l.next.Put(ctx, key, data)
}

func (l *LimitedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Get(ctx, key)
}

func (l *LimitedStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return l.next.Exists(ctx, key)
}

func (l *LimitedStore) Delete(ctx context.Context, key string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.Delete(ctx, key)
}
