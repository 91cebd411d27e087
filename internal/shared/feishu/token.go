package feishu

import (
	"context"
	"sync"
	"time"
)

// tokenRefreshMargin 到期前提前刷新
const tokenRefreshMargin = time.Minute

type tokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// tokenCache app_access_token 缓存，并发获取时只请求一次
type tokenCache struct {
	fetch tokenFetcher
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenCache(fetch tokenFetcher) *tokenCache {
	return &tokenCache{fetch: fetch, now: time.Now}
}

func (t *tokenCache) get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Before(t.expiresAt) {
		return t.token, nil
	}
	token, ttl, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	t.token = token
	t.expiresAt = t.now().Add(ttl - tokenRefreshMargin)
	return token, nil
}

// invalidate 只丢弃仍是 stale 的缓存，避免覆盖其他请求刚刷新的令牌
func (t *tokenCache) invalidate(stale string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == stale {
		t.token = ""
	}
}
