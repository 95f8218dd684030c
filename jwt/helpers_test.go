package jwt

import (
	"context"
	"crypto/rsa"
	"time"
)

type staticFetcher map[string]*rsa.PublicKey

func (s staticFetcher) Keys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	return s, nil
}

func fixedTime(unix int64) func() time.Time {
	t := time.Unix(unix, 0)
	return func() time.Time { return t }
}

func testContext() context.Context {
	return context.Background()
}
