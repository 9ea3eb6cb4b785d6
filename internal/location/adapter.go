package location

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

// Subscription 连续定位订阅，Stop 可重复调用
type Subscription interface {
	Stop()
}

// Adapter 定位平台适配器，把平台错误折叠成 bool / nil，不做重试
type Adapter struct {
	platform   Platform
	logger     *zap.Logger
	fixTimeout time.Duration
}

// NewAdapter 创建定位适配器
func NewAdapter(platform Platform, logger *zap.Logger) *Adapter {
	return &Adapter{platform: platform, logger: logger, fixTimeout: DefaultFixTimeout}
}

// SetFixTimeout 设置单次定位超时
func (a *Adapter) SetFixTimeout(d time.Duration) {
	if d > 0 {
		a.fixTimeout = d
	}
}

// RequestPermissions 前台和后台权限都授予才返回 true
func (a *Adapter) RequestPermissions(ctx context.Context) bool {
	fg, err := a.platform.RequestForegroundPermission(ctx)
	if err != nil {
		a.logger.Warn("Foreground permission request failed", zap.Error(err))
		return false
	}
	if !fg {
		a.logger.Info("Foreground location permission denied")
		return false
	}

	bg, err := a.platform.RequestBackgroundPermission(ctx)
	if err != nil {
		a.logger.Warn("Background permission request failed", zap.Error(err))
		return false
	}
	if !bg {
		a.logger.Info("Background location permission denied")
		return false
	}
	return true
}

// GetCurrentLocation 单次高精度定位，失败返回 nil
func (a *Adapter) GetCurrentLocation(ctx context.Context) *models.GPSLocation {
	ctx, cancel := context.WithTimeout(ctx, a.fixTimeout)
	defer cancel()

	loc, err := a.platform.GetCurrentPosition(ctx, AccuracyHigh)
	if err != nil {
		a.logger.Warn("Failed to get current location", zap.Error(err))
		return nil
	}
	return &loc
}

// WatchPosition 开始连续定位
func (a *Adapter) WatchPosition(ctx context.Context, opts WatchOptions, onUpdate func(models.GPSLocation)) (Subscription, error) {
	sub := &subscription{}
	handle, err := a.platform.WatchPosition(ctx, opts.withDefaults(), func(loc models.GPSLocation) {
		if sub.stopped.Load() {
			return
		}
		onUpdate(loc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch position: %w", err)
	}
	sub.handle = handle
	return sub, nil
}

type subscription struct {
	handle  Handle
	once    sync.Once
	stopped atomic.Bool
}

func (s *subscription) Stop() {
	s.once.Do(func() {
		s.stopped.Store(true)
		if s.handle != nil {
			s.handle.Remove()
		}
	})
}
