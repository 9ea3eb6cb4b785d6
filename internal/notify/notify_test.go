package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/messaging"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

type call struct {
	channel string
	to      string
	title   string
	body    string
}

// fakeGateway 记录调用，failTo 中的接收方返回错误
type fakeGateway struct {
	mu     sync.Mutex
	calls  []call
	failTo map[string]bool
}

func (g *fakeGateway) SendPush(_ context.Context, token, title, body string, _ map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{channel: ChannelPush, to: token, title: title, body: body})
	if g.failTo[token] {
		return errors.New("push rejected")
	}
	return nil
}

func (g *fakeGateway) SendSMS(_ context.Context, phone, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{channel: ChannelSMS, to: phone, body: message})
	if g.failTo[phone] {
		return errors.New("sms rejected")
	}
	return nil
}

func TestFanout_PerRecipientIsolation(t *testing.T) {
	gw := &fakeGateway{failTo: map[string]bool{"tok-bad": true}}
	f := NewFanout(gw, 2, zap.NewNop())

	contacts := []models.EmergencyContact{
		{ID: "a", PushToken: "tok-bad", Phone: "+1001"},
		{ID: "b", PushToken: "tok-b"},
		{ID: "c", Phone: "+1003"},
		{ID: "d"},
	}
	report := f.NotifyContacts(context.Background(), contacts, models.Notification{
		Class: models.NotificationEmergency, Title: "T", Body: "B", SMS: "S",
	})

	assert.Equal(t, 4, report.Attempted)
	assert.Equal(t, 3, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "push to a")
	assert.Len(t, gw.calls, 4)

	for _, c := range gw.calls {
		if c.channel == ChannelSMS {
			assert.Equal(t, "S", c.body)
		}
	}
}

func TestFanout_NoContacts(t *testing.T) {
	f := NewFanout(&fakeGateway{}, 0, zap.NewNop())
	report := f.NotifyContacts(context.Background(), nil, models.Notification{})
	assert.Equal(t, models.DeliveryReport{}, report)
}

func TestRouter(t *testing.T) {
	push := &fakeGateway{}
	sms := &fakeGateway{}
	r := &Router{Push: push, SMS: sms}

	require.NoError(t, r.SendPush(context.Background(), "tok", "t", "b", nil))
	require.NoError(t, r.SendSMS(context.Background(), "+1", "m"))
	assert.Len(t, push.calls, 1)
	assert.Len(t, sms.calls, 1)

	empty := &Router{}
	assert.ErrorIs(t, empty.SendPush(context.Background(), "tok", "t", "b", nil), ErrUnsupported)
	assert.ErrorIs(t, empty.SendSMS(context.Background(), "+1", "m"), ErrUnsupported)
}

func TestHTTPGateway(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		push  pushRequest
		sms   smsRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/push":
			_ = json.NewDecoder(r.Body).Decode(&push)
			w.WriteHeader(http.StatusOK)
		case "/sms":
			_ = json.NewDecoder(r.Body).Decode(&sms)
			if sms.To == "+bad" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "secret", time.Second, 0, zap.NewNop())
	require.NoError(t, g.SendPush(context.Background(), "tok", "Title", "Body", map[string]string{"alertId": "a1"}))
	require.NoError(t, g.SendSMS(context.Background(), "+1555", "help"))
	assert.Error(t, g.SendSMS(context.Background(), "+bad", "help"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/push", "/sms", "/sms"}, paths)
	assert.Equal(t, "tok", push.Token)
	assert.Equal(t, "a1", push.Data["alertId"])
	assert.Equal(t, "help", sms.Message)
}

type fakeSender struct {
	msg *messaging.Message
	err error
}

func (s *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	s.msg = m
	return "projects/p/messages/1", s.err
}

func TestFCMGateway(t *testing.T) {
	sender := &fakeSender{}
	g := newFCMGateway(sender, zap.NewNop())

	require.NoError(t, g.SendPush(context.Background(), "tok", "SOS", "help", map[string]string{"k": "v"}))
	require.NotNil(t, sender.msg)
	assert.Equal(t, "tok", sender.msg.Token)
	assert.Equal(t, "SOS", sender.msg.Notification.Title)
	assert.Equal(t, "high", sender.msg.Android.Priority)
	assert.Equal(t, "v", sender.msg.Data["k"])

	sender.err = errors.New("unregistered")
	assert.Error(t, g.SendPush(context.Background(), "tok", "SOS", "help", nil))
	assert.ErrorIs(t, g.SendSMS(context.Background(), "+1", "m"), ErrUnsupported)
}

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStreamGatewayAndOutboxWorker(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	delivery := &fakeGateway{failTo: map[string]bool{"+fail": true}}
	worker := NewOutboxWorker(client, "outbox", "notifier", "worker-1", delivery, zap.NewNop())
	require.NoError(t, worker.Init(ctx))

	g := NewStreamGateway(client, "outbox")
	require.NoError(t, g.SendPush(ctx, "tok", "SOS", "help", nil))
	require.NoError(t, g.SendSMS(ctx, "+1555", "help"))
	require.NoError(t, g.SendSMS(ctx, "+fail", "help"))

	delivered, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	require.Len(t, delivery.calls, 3)
	assert.Equal(t, call{channel: ChannelPush, to: "tok", title: "SOS", body: "help"}, delivery.calls[0])

	// 失败的消息未确认，仍在 pending 列表
	pending, err := client.XPending(ctx, "outbox", "notifier").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)

	delivered, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestOutboxWorker_DropsMalformed(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	worker := NewOutboxWorker(client, "outbox", "notifier", "w", &fakeGateway{}, zap.NewNop())
	require.NoError(t, worker.Init(ctx))
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "outbox", Values: map[string]interface{}{"data": "{"}}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "outbox", Values: map[string]interface{}{"data": `{"channel":"fax","to":"x"}`}}).Err())

	delivered, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	pending, err := client.XPending(ctx, "outbox", "notifier").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestOutboxWorker_RunStopsOnCancel(t *testing.T) {
	client := setupTestRedis(t)
	worker := NewOutboxWorker(client, "outbox", "notifier", "w", &fakeGateway{}, zap.NewNop())
	worker.block = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
