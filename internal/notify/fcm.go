package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMGateway Firebase Cloud Messaging 推送，仅支持 push
type FCMGateway struct {
	client messageSender
	logger *zap.Logger
}

// NewFCMGateway 使用服务账号初始化 FCM 客户端
func NewFCMGateway(ctx context.Context, projectID, credentialsPath string, logger *zap.Logger) (*FCMGateway, error) {
	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing FCM client: %w", err)
	}
	logger.Info("FCM gateway initialized", zap.String("project_id", projectID))
	return newFCMGateway(client, logger), nil
}

func newFCMGateway(client messageSender, logger *zap.Logger) *FCMGateway {
	return &FCMGateway{client: client, logger: logger}
}

func (g *FCMGateway) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
	id, err := g.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("fcm send failed: %w", err)
	}
	g.logger.Debug("FCM message sent", zap.String("message_id", id))
	return nil
}

func (g *FCMGateway) SendSMS(context.Context, string, string) error {
	return ErrUnsupported
}
