package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sitter-safety/internal/geo"
	"sitter-safety/internal/location"
	"sitter-safety/internal/models"
)

var (
	ErrAlreadyTracking    = errors.New("tracking session already active")
	ErrPermissionDenied   = errors.New("location permission denied")
	ErrWatchFailed        = errors.New("failed to start location watch")
	ErrStoppedDuringStart = errors.New("tracking session stopped during start")
)

// LocationSource 定位来源（*location.Adapter 实现）
type LocationSource interface {
	RequestPermissions(ctx context.Context) bool
	GetCurrentLocation(ctx context.Context) *models.GPSLocation
	WatchPosition(ctx context.Context, opts location.WatchOptions, onUpdate func(models.GPSLocation)) (location.Subscription, error)
}

// Reporter 后端上报
type Reporter interface {
	ReportLocation(ctx context.Context, sessionID string, loc models.GPSLocation) error
	ReportSessionEnd(ctx context.Context, session *models.TrackingSession) error
}

// SessionStore 会话审计记录
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.TrackingSession) error
}

// SnapshotCache 会话实时快照
type SnapshotCache interface {
	SaveSession(ctx context.Context, session *models.TrackingSession) error
	ClearSession(ctx context.Context) error
}

// Config 会话管理配置
type Config struct {
	Watch       location.WatchOptions
	QueueSize   int
	TaskTimeout time.Duration
}

// Option 可选依赖
type Option func(*Manager)

func WithSessionStore(s SessionStore) Option   { return func(m *Manager) { m.repo = s } }
func WithSnapshotCache(c SnapshotCache) Option { return func(m *Manager) { m.cache = c } }
func WithClock(c clock.Clock) Option           { return func(m *Manager) { m.clock = c } }

// Manager 跟踪会话管理器：Inactive -> Active -> Inactive
// 全局只允许一个活跃会话
type Manager struct {
	source   LocationSource
	reporter Reporter
	repo     SessionStore
	cache    SnapshotCache
	clock    clock.Clock
	logger   *zap.Logger
	watch    location.WatchOptions
	tasks    *dispatcher

	mu       sync.Mutex
	session  *models.TrackingSession
	sub      location.Subscription
	starting bool
	exited   map[string]int64 // zoneID -> 越界时间戳

	cacheMu sync.Mutex // 快照写入与清除串行

	obsMu              sync.RWMutex
	locationObservers  []func(models.GPSLocation)
	violationObservers []func(models.GeofenceViolation)
}

// NewManager 创建会话管理器
func NewManager(source LocationSource, reporter Reporter, cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 15 * time.Second
	}
	m := &Manager{
		source:   source,
		reporter: reporter,
		clock:    clock.New(),
		logger:   logger,
		watch:    cfg.Watch,
		tasks:    newDispatcher(cfg.QueueSize, cfg.TaskTimeout, logger),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start 开始跟踪会话
func (m *Manager) Start(ctx context.Context, session *models.TrackingSession) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if err := models.ValidateZones(session.Zones); err != nil {
		return err
	}

	m.mu.Lock()
	if m.session != nil || m.starting {
		m.mu.Unlock()
		return ErrAlreadyTracking
	}
	m.starting = true
	m.mu.Unlock()

	if !m.source.RequestPermissions(ctx) {
		m.finishStart(nil)
		m.logger.Warn("Tracking not started: location permission denied",
			zap.String("sitter_id", session.SitterID),
		)
		return ErrPermissionDenied
	}

	s := session.Clone()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.StartTime = m.clock.Now()
	s.EndTime = nil
	s.Active = true

	m.mu.Lock()
	m.session = s
	m.exited = make(map[string]int64)
	m.mu.Unlock()

	sub, err := m.source.WatchPosition(context.WithoutCancel(ctx), m.watch, m.handleLocation)
	if err != nil {
		m.mu.Lock()
		if m.session == s {
			m.session = nil
			m.exited = nil
		}
		m.starting = false
		m.mu.Unlock()
		m.logger.Error("Failed to start location watch", zap.String("session_id", s.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrWatchFailed, err)
	}

	if !m.finishStart(func() bool {
		if m.session != s {
			return false
		}
		m.sub = sub
		return true
	}) {
		sub.Stop()
		m.logger.Info("Tracking session stopped before start completed", zap.String("session_id", s.ID))
		return ErrStoppedDuringStart
	}

	m.logger.Info("Tracking session started",
		zap.String("session_id", s.ID),
		zap.String("sitter_id", s.SitterID),
		zap.String("parent_id", s.ParentID),
		zap.Int("zones", len(s.Zones)),
	)
	m.saveSnapshot(s, s.Clone())
	return nil
}

func (m *Manager) finishStart(fn func() bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starting = false
	if fn == nil {
		return false
	}
	return fn()
}

// Stop 结束当前会话（幂等）
// 同步取消定位订阅，最终记录的持久化在后台完成
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	s := m.session
	if s == nil {
		m.mu.Unlock()
		return
	}
	sub := m.sub
	m.session = nil
	m.sub = nil
	m.exited = nil
	now := m.clock.Now()
	s.EndTime = &now
	s.Active = false
	m.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}

	m.logger.Info("Tracking session stopped",
		zap.String("session_id", s.ID),
		zap.Int("locations", len(s.Locations)),
		zap.Duration("duration", now.Sub(s.StartTime)),
	)

	// 最终记录不进有界队列，不会因积压被丢弃
	m.tasks.spawn("session_end", func(ctx context.Context) error {
		var err error
		if m.reporter != nil {
			if e := m.reporter.ReportSessionEnd(ctx, s); e != nil {
				err = multierr.Append(err, fmt.Errorf("report session end: %w", e))
			}
		}
		if m.repo != nil {
			if e := m.repo.SaveSession(ctx, s); e != nil {
				err = multierr.Append(err, fmt.Errorf("save session: %w", e))
			}
		}
		if m.cache != nil {
			m.cacheMu.Lock()
			defer m.cacheMu.Unlock()
			if e := m.cache.ClearSession(ctx); e != nil {
				err = multierr.Append(err, fmt.Errorf("clear session snapshot: %w", e))
			}
		}
		return err
	})
}

// AddZone 添加或替换地理围栏；无会话时忽略
func (m *Manager) AddZone(zone models.GeofenceZone) error {
	if err := zone.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	for i, z := range m.session.Zones {
		if z.ID == zone.ID {
			m.session.Zones[i] = zone
			delete(m.exited, zone.ID)
			return nil
		}
	}
	m.session.Zones = append(m.session.Zones, zone)
	return nil
}

// RemoveZone 删除地理围栏；无会话或未知 ID 时忽略
func (m *Manager) RemoveZone(zoneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	zones := m.session.Zones[:0]
	for _, z := range m.session.Zones {
		if z.ID != zoneID {
			zones = append(zones, z)
		}
	}
	m.session.Zones = zones
	delete(m.exited, zoneID)
}

// OnLocationUpdate 注册位置更新观察者
func (m *Manager) OnLocationUpdate(cb func(models.GPSLocation)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.locationObservers = append(m.locationObservers, cb)
}

// OnGeofenceViolation 注册越界观察者
func (m *Manager) OnGeofenceViolation(cb func(models.GeofenceViolation)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.violationObservers = append(m.violationObservers, cb)
}

// CurrentSession 当前会话的只读副本，无会话返回 nil
func (m *Manager) CurrentSession() *models.TrackingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// IsTracking 是否存在活跃会话
func (m *Manager) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// CurrentLocation 单次定位，失败时回退到会话最后一个样本
func (m *Manager) CurrentLocation(ctx context.Context) *models.GPSLocation {
	if loc := m.source.GetCurrentLocation(ctx); loc != nil {
		return loc
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.LastLocation()
}

// Close 结束会话并等待后台任务完成
func (m *Manager) Close() {
	m.Stop(context.Background())
	m.tasks.close()
}

func (m *Manager) handleLocation(loc models.GPSLocation) {
	m.mu.Lock()
	s := m.session
	if s == nil || !s.Active {
		m.mu.Unlock()
		return
	}
	s.Locations = append(s.Locations, loc)
	sessionID := s.ID
	violations := m.checkGeofences(s, loc)
	snapshot := s.Clone()
	m.mu.Unlock()

	m.obsMu.RLock()
	locationObservers := m.locationObservers
	violationObservers := m.violationObservers
	m.obsMu.RUnlock()

	for _, cb := range locationObservers {
		cb(loc)
	}
	for _, v := range violations {
		m.logger.Warn("Geofence violation",
			zap.String("session_id", v.SessionID),
			zap.String("zone_id", v.Zone.ID),
			zap.Float64("distance_m", v.Distance),
			zap.Float64("radius_m", v.Zone.Radius),
		)
		for _, cb := range violationObservers {
			cb(v)
		}
	}

	if m.reporter != nil {
		m.tasks.submit("report_location", func(ctx context.Context) error {
			return m.reporter.ReportLocation(ctx, sessionID, loc)
		})
	}
	m.saveSnapshot(s, snapshot)
}

// checkGeofences 必须在持有 m.mu 时调用
// 每个围栏从内到外只报一次，回到围栏内后清除标记
func (m *Manager) checkGeofences(s *models.TrackingSession, loc models.GPSLocation) []models.GeofenceViolation {
	var violations []models.GeofenceViolation
	for _, zone := range s.Zones {
		if !zone.Active {
			continue
		}
		d, err := geo.DistanceMeters(zone.Center, loc.Point())
		if err != nil {
			m.logger.Warn("Skipping geofence check for invalid sample",
				zap.String("zone_id", zone.ID),
				zap.Error(err),
			)
			continue
		}
		if d <= zone.Radius {
			delete(m.exited, zone.ID)
			continue
		}
		if _, seen := m.exited[zone.ID]; seen {
			continue
		}
		m.exited[zone.ID] = loc.Timestamp
		violations = append(violations, models.GeofenceViolation{
			SessionID: s.ID,
			Zone:      zone,
			Location:  loc,
			Distance:  d,
			Timestamp: loc.Timestamp,
		})
	}
	return violations
}

// saveSnapshot 执行时 live 已不是当前会话则跳过，避免覆盖 Stop 的清除
func (m *Manager) saveSnapshot(live, snapshot *models.TrackingSession) {
	if m.cache == nil {
		return
	}
	m.tasks.submit("session_snapshot", func(ctx context.Context) error {
		m.cacheMu.Lock()
		defer m.cacheMu.Unlock()
		m.mu.Lock()
		current := m.session == live
		m.mu.Unlock()
		if !current {
			return nil
		}
		return m.cache.SaveSession(ctx, snapshot)
	})
}
