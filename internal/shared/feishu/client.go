package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// 飞书开放平台API默认地址
const DefaultBaseURL = "https://open.feishu.cn"

const (
	pathAppAccessToken = "/open-apis/auth/v3/app_access_token/internal"
	pathMessages       = "/open-apis/im/v1/messages"
)

// 令牌失效错误码，遇到后丢弃缓存重试一次
var tokenInvalidCodes = map[int]bool{
	99991663: true,
	99991664: true,
}

// APIError 飞书返回的非0错误码
type APIError struct {
	Code int
	Msg  string
	Path string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("飞书API错误[%d]: %s (path=%s)", e.Code, e.Msg, e.Path)
}

// Client 飞书开放平台客户端，只覆盖ECN通知用到的接口
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenCache
}

// Option 客户端选项
type Option func(*Client)

// WithBaseURL 指定开放平台地址（私有化部署或测试）
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient 指定HTTP客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient 创建飞书客户端
func NewClient(appID, appSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = newTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		return c.fetchAppToken(ctx, appID, appSecret)
	})
	return c
}

// AppAccessToken 获取应用访问令牌，命中缓存时不请求
func (c *Client) AppAccessToken(ctx context.Context) (string, error) {
	return c.tokens.get(ctx)
}

type appTokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type appTokenResponse struct {
	BaseResponse
	AppAccessToken string `json:"app_access_token"`
	Expire         int    `json:"expire"`
}

func (c *Client) fetchAppToken(ctx context.Context, appID, appSecret string) (string, time.Duration, error) {
	var resp appTokenResponse
	err := c.send(ctx, pathAppAccessToken, nil, "", appTokenRequest{AppID: appID, AppSecret: appSecret}, &resp)
	if err != nil {
		return "", 0, fmt.Errorf("获取app_access_token失败: %w", err)
	}
	return resp.AppAccessToken, time.Duration(resp.Expire) * time.Second, nil
}

// post 带令牌调用接口；令牌被飞书判定失效时刷新后重试一次
func (c *Client) post(ctx context.Context, path string, query url.Values, in interface{}, out result) error {
	token, err := c.tokens.get(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, path, query, token, in, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && tokenInvalidCodes[apiErr.Code] {
		c.tokens.invalidate(token)
		if token, err = c.tokens.get(ctx); err != nil {
			return err
		}
		err = c.send(ctx, path, query, token, in, out)
	}
	return err
}

// result 所有响应都内嵌 BaseResponse
type result interface {
	base() *BaseResponse
}

func (c *Client) send(ctx context.Context, path string, query url.Values, token string, in interface{}, out result) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败 (status=%d): %w", resp.StatusCode, err)
	}
	if b := out.base(); b.Code != 0 {
		return &APIError{Code: b.Code, Msg: b.Msg, Path: path}
	}
	return nil
}
