package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type PushConfig struct {
	GatewayURL   string
	AppKey       string
	MasterSecret string
}

type PushClient interface {
	Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error
}

type Push struct {
	cfg PushConfig
	cli PushClient
}

func NewPush(cfg PushConfig, cli PushClient) *Push { return &Push{cfg: cfg, cli: cli} }

func (p *Push) PushToAlias(ctx context.Context, alias []string, title, content string, extras map[string]interface{}) error {
	if p.cli == nil {
		return fmt.Errorf("PushClient not configured")
	}
	aud := map[string]interface{}{"alias": alias}
	return p.cli.Push(ctx, title, content, aud, extras)
}

// Send 实现 Sender，收件人即设备别名
func (p *Push) Send(ctx context.Context, alias string, msg Message) error {
	extras := make(map[string]interface{}, len(msg.Data))
	for k, v := range msg.Data {
		extras[k] = v
	}
	return p.PushToAlias(ctx, []string{alias}, msg.Title, msg.Body, extras)
}

// HTTPPushClient 推送网关客户端
type HTTPPushClient struct {
	URL          string
	AppKey       string
	MasterSecret string
	HTTP         *http.Client
}

func NewHTTPPushClient(cfg PushConfig, timeout time.Duration) *HTTPPushClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPushClient{
		URL:          cfg.GatewayURL,
		AppKey:       cfg.AppKey,
		MasterSecret: cfg.MasterSecret,
		HTTP:         &http.Client{Timeout: timeout},
	}
}

type pushPayload struct {
	AppKey       string                 `json:"app_key,omitempty"`
	MasterSecret string                 `json:"master_secret,omitempty"`
	Title        string                 `json:"title"`
	Content      string                 `json:"content"`
	Audience     map[string]interface{} `json:"audience"`
	Extras       map[string]interface{} `json:"extras,omitempty"`
}

func (c *HTTPPushClient) Push(ctx context.Context, title, content string, audience map[string]interface{}, extras map[string]interface{}) error {
	return postJSON(ctx, c.HTTP, c.URL, pushPayload{
		AppKey:       c.AppKey,
		MasterSecret: c.MasterSecret,
		Title:        title,
		Content:      content,
		Audience:     audience,
		Extras:       extras,
	})
}
