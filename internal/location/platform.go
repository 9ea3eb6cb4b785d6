package location

import (
	"context"
	"errors"
	"time"

	"sitter-safety/internal/models"
)

// 采样默认值
const (
	DefaultTimeInterval     = 30 * time.Second
	DefaultDistanceInterval = 10.0 // 米
	DefaultFixTimeout       = 15 * time.Second
)

// ErrNoFix 平台在超时前没有给出定位
var ErrNoFix = errors.New("no location fix available")

// Accuracy 定位精度档位
type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
)

// WatchOptions 连续定位参数，时间或距离任一满足即产生样本
type WatchOptions struct {
	Accuracy         Accuracy
	TimeInterval     time.Duration
	DistanceInterval float64
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.TimeInterval <= 0 {
		o.TimeInterval = DefaultTimeInterval
	}
	if o.DistanceInterval <= 0 {
		o.DistanceInterval = DefaultDistanceInterval
	}
	return o
}

// Handle 平台侧的订阅句柄
type Handle interface {
	Remove()
}

// Platform 设备定位能力
type Platform interface {
	RequestForegroundPermission(ctx context.Context) (bool, error)
	RequestBackgroundPermission(ctx context.Context) (bool, error)
	GetCurrentPosition(ctx context.Context, accuracy Accuracy) (models.GPSLocation, error)
	WatchPosition(ctx context.Context, opts WatchOptions, cb func(models.GPSLocation)) (Handle, error)
}
