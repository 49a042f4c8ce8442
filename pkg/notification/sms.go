package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type SMSConfig struct {
	GatewayURL   string
	SignName     string
	TemplateCode string
	Timeout      time.Duration
}

type SMS struct {
	cfg SMSConfig
	cli SMSClient
}

// SMSClient 便于替换/注入的发送接口
type SMSClient interface {
	Send(ctx context.Context, phone, sign, template string, params map[string]string) error
}

func NewSMS(cfg SMSConfig, cli SMSClient) *SMS {
	return &SMS{cfg: cfg, cli: cli}
}

// Send 实现 Sender，短信只带正文
func (s *SMS) Send(ctx context.Context, phone string, msg Message) error {
	if s.cli == nil {
		return fmt.Errorf("SMSClient not configured")
	}
	params := map[string]string{"body": msg.Body}
	if msg.Title != "" {
		params["title"] = msg.Title
	}
	return s.cli.Send(ctx, phone, s.cfg.SignName, s.cfg.TemplateCode, params)
}

// HTTPSMSClient 把短信请求以 JSON POST 给网关 webhook
type HTTPSMSClient struct {
	URL  string
	HTTP *http.Client
}

func NewHTTPSMSClient(url string, timeout time.Duration) *HTTPSMSClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSMSClient{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

type smsPayload struct {
	Phone    string            `json:"phone"`
	Sign     string            `json:"sign"`
	Template string            `json:"template,omitempty"`
	Params   map[string]string `json:"params"`
}

func (c *HTTPSMSClient) Send(ctx context.Context, phone, sign, template string, params map[string]string) error {
	return postJSON(ctx, c.HTTP, c.URL, smsPayload{Phone: phone, Sign: sign, Template: template, Params: params})
}

func postJSON(ctx context.Context, cli *http.Client, url string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway %s: %d %s", url, resp.StatusCode, bytes.TrimSpace(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
