package notify

import (
	"context"
	"errors"
)

// ErrUnsupported 网关不支持该通道
var ErrUnsupported = errors.New("channel not supported by gateway")

// Gateway 推送 / 短信网关，每次调用只针对一个接收方
type Gateway interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) error
	SendSMS(ctx context.Context, phone, message string) error
}

// Router 推送和短信走不同网关
type Router struct {
	Push Gateway
	SMS  Gateway
}

func (r *Router) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	if r.Push == nil {
		return ErrUnsupported
	}
	return r.Push.SendPush(ctx, token, title, body, data)
}

func (r *Router) SendSMS(ctx context.Context, phone, message string) error {
	if r.SMS == nil {
		return ErrUnsupported
	}
	return r.SMS.SendSMS(ctx, phone, message)
}
