package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "sitter-safety/internal/redis"
)

// 出站消息通道
const (
	ChannelPush = "push"
	ChannelSMS  = "sms"
)

// OutboundMessage 写入 Redis Streams 发件箱的通知
type OutboundMessage struct {
	Channel string            `json:"channel"`
	To      string            `json:"to"` // push token 或手机号
	Title   string            `json:"title,omitempty"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// StreamGateway 把通知写入发件箱，由 OutboxWorker 异步投递
type StreamGateway struct {
	client *redis.Client
	stream string
}

func NewStreamGateway(client *redis.Client, stream string) *StreamGateway {
	return &StreamGateway{client: client, stream: stream}
}

func (g *StreamGateway) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	return g.enqueue(ctx, OutboundMessage{Channel: ChannelPush, To: token, Title: title, Body: body, Data: data})
}

func (g *StreamGateway) SendSMS(ctx context.Context, phone, message string) error {
	return g.enqueue(ctx, OutboundMessage{Channel: ChannelSMS, To: phone, Body: message})
}

func (g *StreamGateway) enqueue(ctx context.Context, msg OutboundMessage) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, g.client, g.stream, msg); err != nil {
		return fmt.Errorf("failed to enqueue %s notification: %w", msg.Channel, err)
	}
	return nil
}

// OutboxWorker 从发件箱读取通知并通过真实网关投递
// 投递成功才 XACK，失败的消息留在 pending 列表
type OutboxWorker struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	delivery Gateway
	batch    int64
	block    time.Duration
	logger   *zap.Logger
}

// NewOutboxWorker 创建发件箱消费者
func NewOutboxWorker(client *redis.Client, stream, group, consumer string, delivery Gateway, logger *zap.Logger) *OutboxWorker {
	return &OutboxWorker{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		delivery: delivery,
		batch:    20,
		block:    5 * time.Second,
		logger:   logger,
	}
}

// Init 创建消费者组
func (w *OutboxWorker) Init(ctx context.Context) error {
	return rediscommon.CreateConsumerGroup(ctx, w.client, w.stream, w.group)
}

// Run 循环消费直到 ctx 结束
func (w *OutboxWorker) Run(ctx context.Context) error {
	if err := w.Init(ctx); err != nil {
		return err
	}
	w.logger.Info("Notification outbox worker started",
		zap.String("stream", w.stream),
		zap.String("group", w.group),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.process(ctx, w.block); err != nil && ctx.Err() == nil {
			w.logger.Error("Outbox read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce 非阻塞地处理一批消息，返回成功投递数
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	return w.process(ctx, rediscommon.NoBlock)
}

func (w *OutboxWorker) process(ctx context.Context, block time.Duration) (int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, w.client, w.stream, w.group, w.consumer, w.batch, block)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range messages {
		raw, ok := m.Data()
		var out OutboundMessage
		if !ok || json.Unmarshal([]byte(raw), &out) != nil {
			w.logger.Warn("Dropping malformed outbox message", zap.String("id", m.ID))
			w.ack(ctx, m.ID)
			continue
		}
		if err := w.deliver(ctx, out); err != nil {
			w.logger.Warn("Outbox delivery failed",
				zap.String("id", m.ID),
				zap.String("channel", out.Channel),
				zap.Error(err),
			)
			continue
		}
		w.ack(ctx, m.ID)
		delivered++
	}
	return delivered, nil
}

func (w *OutboxWorker) deliver(ctx context.Context, m OutboundMessage) error {
	switch m.Channel {
	case ChannelPush:
		return w.delivery.SendPush(ctx, m.To, m.Title, m.Body, m.Data)
	case ChannelSMS:
		return w.delivery.SendSMS(ctx, m.To, m.Body)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, m.Channel)
	}
}

func (w *OutboxWorker) ack(ctx context.Context, id string) {
	if err := rediscommon.Ack(ctx, w.client, w.stream, w.group, id); err != nil {
		w.logger.Warn("Outbox ack failed", zap.String("id", id), zap.Error(err))
	}
}
