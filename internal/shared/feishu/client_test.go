package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppAccessToken_Cached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req appTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "app", req.AppID)
		w.Write([]byte(`{"code":0,"msg":"ok","app_access_token":"t-1","expire":7200}`))
	}))
	defer srv.Close()

	c := NewClient("app", "secret", WithBaseURL(srv.URL+"/"))
	for i := 0; i < 3; i++ {
		token, err := c.AppAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "t-1", token)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenCache_RefreshesBeforeExpiry(t *testing.T) {
	var fetched int
	cache := newTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		fetched++
		return "t", 2 * time.Minute, nil
	})
	now := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.get(context.Background())
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetched)

	// 有效期2分钟，提前1分钟刷新
	now = now.Add(2 * time.Second)
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)

	cache.invalidate("other")
	_, err = cache.get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)
}

func TestSendUserCard_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathAppAccessToken {
			w.Write([]byte(`{"code":0,"app_access_token":"t-1","expire":7200}`))
			return
		}
		w.Write([]byte(`{"code":230001,"msg":"invalid receive_id"}`))
	}))
	defer srv.Close()

	c := NewClient("app", "secret", WithBaseURL(srv.URL))
	_, err := c.SendUserCard(context.Background(), "ou_x", NewECNCard(ECNCard{Title: "t", NoticeCode: "ECN-1"}))
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 230001, apiErr.Code)
	assert.Equal(t, pathMessages, apiErr.Path)
}

func TestSendUserCard_RetriesOnInvalidToken(t *testing.T) {
	var tokens, sends int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == pathAppAccessToken {
			n := atomic.AddInt32(&tokens, 1)
			if n == 1 {
				w.Write([]byte(`{"code":0,"app_access_token":"stale","expire":7200}`))
				return
			}
			w.Write([]byte(`{"code":0,"app_access_token":"fresh","expire":7200}`))
			return
		}

		atomic.AddInt32(&sends, 1)
		assert.Equal(t, ReceiveOpenID, r.URL.Query().Get("receive_id_type"))
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.Write([]byte(`{"code":99991663,"msg":"token invalid"}`))
			return
		}
		var req messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ou_x", req.ReceiveID)
		assert.Equal(t, "interactive", req.MsgType)
		w.Write([]byte(`{"code":0,"msg":"ok","data":{"message_id":"om_1"}}`))
	}))
	defer srv.Close()

	c := NewClient("app", "secret", WithBaseURL(srv.URL))
	id, err := c.SendUserCard(context.Background(), "ou_x", NewECNCard(ECNCard{Title: "t", NoticeCode: "ECN-1"}))
	require.NoError(t, err)
	assert.Equal(t, "om_1", id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokens))
	assert.Equal(t, int32(2), atomic.LoadInt32(&sends))
}

func TestNewECNCard(t *testing.T) {
	card := NewECNCard(ECNCard{Title: "审批", NoticeCode: "ECN-1", Body: "b"})
	assert.Equal(t, "blue", card.Header.Template)
	assert.Len(t, card.Elements, 2)

	card = NewECNCard(ECNCard{Title: "逾期", NoticeCode: "ECN-1", Urgent: true, URL: "https://x/ecns/1"})
	assert.Equal(t, "red", card.Header.Template)
	require.Len(t, card.Elements, 4)
	assert.Equal(t, "https://x/ecns/1", card.Elements[3].Actions[0].URL)
}
