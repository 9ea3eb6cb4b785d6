package location

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"sitter-safety/internal/models"
	"sitter-safety/internal/mqtt"
	"sitter-safety/internal/store"
)

// Subscriber MQTT 订阅接口（*mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// PermissionChecker 设备授权查询（*store.PermissionStore 实现）
type PermissionChecker interface {
	Granted(ctx context.Context, deviceID, permission string) (bool, error)
}

// MQTTPlatform 通过 MQTT 接收被跟踪设备上报的定位
type MQTTPlatform struct {
	sub      Subscriber
	perms    PermissionChecker
	deviceID string
	qos      byte
	maxAge   time.Duration
	clock    clock.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	last     *models.GPSLocation
	watchers map[int]*watcher
	nextID   int
	waiters  []chan models.GPSLocation
}

type watcher struct {
	mu      sync.Mutex
	sampler *Sampler
	cb      func(models.GPSLocation)
}

func (w *watcher) deliver(loc models.GPSLocation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sampler.Accept(loc) {
		w.cb(loc)
	}
}

// NewMQTTPlatform 创建 MQTT 定位平台
// maxAge: 单次定位可直接复用最近一次上报的最大时长
func NewMQTTPlatform(sub Subscriber, perms PermissionChecker, deviceID string, qos byte, maxAge time.Duration, clk clock.Clock, logger *zap.Logger) *MQTTPlatform {
	return &MQTTPlatform{
		sub:      sub,
		perms:    perms,
		deviceID: deviceID,
		qos:      qos,
		maxAge:   maxAge,
		clock:    clk,
		logger:   logger,
		watchers: make(map[int]*watcher),
	}
}

// Start 订阅定位主题
func (p *MQTTPlatform) Start() error {
	topic := mqtt.LocationTopic(p.deviceID)
	if err := p.sub.Subscribe(topic, p.qos, p.handleMessage); err != nil {
		return err
	}
	p.logger.Info("Subscribed to device location", zap.String("topic", topic))
	return nil
}

// Stop 取消订阅
func (p *MQTTPlatform) Stop() error {
	return p.sub.Unsubscribe(mqtt.LocationTopic(p.deviceID))
}

func (p *MQTTPlatform) handleMessage(topic string, payload []byte) error {
	var loc models.GPSLocation
	if err := json.Unmarshal(payload, &loc); err != nil {
		return fmt.Errorf("invalid location payload on %s: %w", topic, err)
	}
	if err := loc.Point().Validate(); err != nil {
		return err
	}
	if loc.Timestamp == 0 {
		loc.Timestamp = p.clock.Now().UnixMilli()
	}

	p.mu.Lock()
	p.last = &loc
	waiters := p.waiters
	p.waiters = nil
	watchers := make([]*watcher, 0, len(p.watchers))
	for id := 0; id < p.nextID; id++ {
		if w, ok := p.watchers[id]; ok {
			watchers = append(watchers, w)
		}
	}
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- loc
	}
	for _, w := range watchers {
		w.deliver(loc)
	}
	return nil
}

func (p *MQTTPlatform) RequestForegroundPermission(ctx context.Context) (bool, error) {
	return p.perms.Granted(ctx, p.deviceID, store.PermissionForeground)
}

func (p *MQTTPlatform) RequestBackgroundPermission(ctx context.Context) (bool, error) {
	return p.perms.Granted(ctx, p.deviceID, store.PermissionBackground)
}

// GetCurrentPosition 最近一次上报足够新则直接返回，否则等待下一次上报
func (p *MQTTPlatform) GetCurrentPosition(ctx context.Context, _ Accuracy) (models.GPSLocation, error) {
	p.mu.Lock()
	if p.last != nil {
		age := p.clock.Now().Sub(time.UnixMilli(p.last.Timestamp))
		if age <= p.maxAge {
			loc := *p.last
			p.mu.Unlock()
			return loc, nil
		}
	}
	ch := make(chan models.GPSLocation, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case loc := <-ch:
		return loc, nil
	case <-ctx.Done():
		p.removeWaiter(ch)
		return models.GPSLocation{}, fmt.Errorf("%w: %v", ErrNoFix, ctx.Err())
	}
}

func (p *MQTTPlatform) removeWaiter(ch chan models.GPSLocation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// WatchPosition 注册 watcher，每个 watcher 独立采样
func (p *MQTTPlatform) WatchPosition(_ context.Context, opts WatchOptions, cb func(models.GPSLocation)) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = &watcher{sampler: NewSampler(opts), cb: cb}
	return &mqttHandle{p: p, id: id}, nil
}

type mqttHandle struct {
	p  *MQTTPlatform
	id int
}

func (h *mqttHandle) Remove() {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	delete(h.p.watchers, h.id)
}
