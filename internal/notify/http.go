package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type pushRequest struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// HTTPGateway 第三方通知服务 REST 接口（POST /push、POST /sms）
type HTTPGateway struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPGateway 创建 HTTP 通知网关
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, retries int, logger *zap.Logger) *HTTPGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	return &HTTPGateway{httpClient: client, logger: logger}
}

func (g *HTTPGateway) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	return g.post(ctx, "/push", pushRequest{Token: token, Title: title, Body: body, Data: data})
}

func (g *HTTPGateway) SendSMS(ctx context.Context, phone, message string) error {
	return g.post(ctx, "/sms", smsRequest{To: phone, Message: message})
}

func (g *HTTPGateway) post(ctx context.Context, path string, body any) error {
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("notification gateway %s failed: %w", path, err)
	}
	if resp.IsError() {
		g.logger.Warn("Notification gateway returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("notification gateway %s: status %d", path, resp.StatusCode())
	}
	return nil
}
