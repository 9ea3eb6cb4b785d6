package emergency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

var (
	ErrAlertActive   = errors.New("an emergency alert is already active")
	ErrNoLocation    = errors.New("no location available")
	ErrAlertNotFound = models.ErrAlertNotFound
	ErrAlertClosed   = errors.New("emergency alert is no longer active")
)

// DefaultEscalationTimeout 未处理报警自动升级的时间
const DefaultEscalationTimeout = 5 * time.Minute

// Config 报警协调配置
type Config struct {
	PartyID           string // 本设备用户
	PartyRole         string // sitter 或 parent
	EscalationTimeout time.Duration
	AuthorityPhones   []string
	TimerTaskTimeout  time.Duration // 定时升级时网络调用的超时
}

// Dependencies 协调器依赖；Haptics、Cache、Repository 可为空
type Dependencies struct {
	Location   LocationProvider
	Sessions   SessionProvider
	Contacts   ContactSource
	Notifier   Notifier
	Reporter   AlertReporter
	Repository AlertRepository
	Haptics    Haptics
	Cache      SnapshotCache
	Clock      clock.Clock
}

// Coordinator 紧急报警生命周期：Active -> Resolved | FalseAlarm
// 同时最多一个活跃报警
type Coordinator struct {
	cfg    Config
	deps   Dependencies
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.Mutex
	active     *models.EmergencyAlert
	timer      *clock.Timer
	triggering bool

	cacheMu sync.Mutex // 快照写入与清除串行

	obsMu     sync.RWMutex
	triggered []func(*models.EmergencyAlert)
	resolved  []func(*models.EmergencyAlert)
	escalated []func(*models.EmergencyAlert)
}

// NewCoordinator 创建报警协调器
func NewCoordinator(cfg Config, deps Dependencies, logger *zap.Logger) *Coordinator {
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = DefaultEscalationTimeout
	}
	if cfg.TimerTaskTimeout <= 0 {
		cfg.TimerTaskTimeout = 30 * time.Second
	}
	if cfg.PartyRole == "" {
		cfg.PartyRole = models.RoleSitter
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{cfg: cfg, deps: deps, clock: clk, logger: logger}
}

// TriggerSOS 触发紧急报警
// 已有活跃报警返回 ErrAlertActive，无法定位返回 ErrNoLocation
func (c *Coordinator) TriggerSOS(ctx context.Context, reason string) (*models.EmergencyAlert, error) {
	if reason == "" {
		reason = models.ReasonManualSOS
	}
	return c.trigger(ctx, reason, false)
}

func (c *Coordinator) trigger(ctx context.Context, reason string, silent bool) (*models.EmergencyAlert, error) {
	c.mu.Lock()
	if c.active != nil || c.triggering {
		c.mu.Unlock()
		return nil, ErrAlertActive
	}
	c.triggering = true
	c.mu.Unlock()

	alert, err := c.newAlert(ctx, reason, silent)
	if err != nil {
		c.mu.Lock()
		c.triggering = false
		c.mu.Unlock()
		return nil, err
	}

	c.logger.Warn("Emergency alert triggered",
		zap.String("alert_id", alert.ID),
		zap.String("session_id", alert.SessionID),
		zap.String("reason", alert.Reason),
		zap.String("triggered_by", alert.TriggeredBy),
		zap.Int("contacts", len(alert.EmergencyContacts)),
	)
	// 记录和快照写入后才对外可见，关闭操作一定排在其后
	c.persistCreate(ctx, alert.Clone())

	c.mu.Lock()
	c.active = alert
	c.triggering = false
	if !silent {
		id := alert.ID
		c.timer = c.clock.AfterFunc(c.cfg.EscalationTimeout, func() { c.onEscalationTimeout(id) })
	}
	snapshot := alert.Clone()
	c.mu.Unlock()

	var report models.DeliveryReport
	if !silent {
		if c.deps.Haptics != nil {
			if err := c.deps.Haptics.Pulse(ctx); err != nil {
				c.logger.Debug("Haptic feedback failed", zap.Error(err))
			}
		}
		report = c.notify(ctx, snapshot.EmergencyContacts, emergencyNotification(snapshot))
	}
	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.ReportAlert(ctx, snapshot); err != nil {
			c.logger.Error("Failed to report emergency alert to backend",
				zap.String("alert_id", snapshot.ID),
				zap.Error(err),
			)
		} else {
			report.BackendReported = true
		}
	}

	c.mu.Lock()
	alert.Delivery.Merge(report)
	alert.Delivery.BackendReported = report.BackendReported
	snapshot = alert.Clone()
	c.mu.Unlock()

	if report.Failed > 0 || !report.BackendReported {
		c.logger.Warn("Emergency notification incomplete",
			zap.String("alert_id", snapshot.ID),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Bool("backend_reported", report.BackendReported),
		)
	}

	c.persistUpdate(ctx, snapshot)
	c.fire(c.observers(&c.triggered), snapshot)
	return snapshot, nil
}

func (c *Coordinator) newAlert(ctx context.Context, reason string, silent bool) (*models.EmergencyAlert, error) {
	var loc *models.GPSLocation
	if c.deps.Location != nil {
		loc = c.deps.Location.CurrentLocation(ctx)
	}
	if loc == nil {
		c.logger.Error("Cannot trigger emergency: no location", zap.String("reason", reason))
		return nil, ErrNoLocation
	}

	alert := &models.EmergencyAlert{
		ID:                uuid.New().String(),
		TriggeredBy:       c.cfg.PartyID,
		TriggeredByRole:   c.cfg.PartyRole,
		Reason:            reason,
		Location:          *loc,
		CreatedAt:         c.clock.Now(),
		Status:            models.AlertStatusActive,
		EmergencyContacts: []models.EmergencyContact{},
	}

	var session *models.TrackingSession
	if c.deps.Sessions != nil {
		session = c.deps.Sessions.CurrentSession()
	}
	if session != nil {
		alert.SessionID = session.ID
		if !silent && c.deps.Contacts != nil {
			contacts, err := c.deps.Contacts.EmergencyContacts(ctx, session.EmergencyContacts)
			if err != nil {
				c.logger.Error("Failed to load emergency contacts",
					zap.String("session_id", session.ID),
					zap.Error(err),
				)
			}
			alert.EmergencyContacts = append(alert.EmergencyContacts, contacts...)
		}
	}
	return alert, nil
}

// ResolveEmergency 处理完成
func (c *Coordinator) ResolveEmergency(ctx context.Context, alertID, resolvedBy, notes string) error {
	snapshot, err := c.close(ctx, alertID, models.AlertStatusResolved, resolvedBy, notes)
	if err != nil {
		return err
	}

	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.ReportResolution(ctx, snapshot); err != nil {
			c.logger.Error("Failed to report resolution", zap.String("alert_id", alertID), zap.Error(err))
		}
	}
	c.afterClose(ctx, snapshot)
	return nil
}

// MarkFalseAlarm 标记为误报
func (c *Coordinator) MarkFalseAlarm(ctx context.Context, alertID string) error {
	snapshot, err := c.close(ctx, alertID, models.AlertStatusFalseAlarm, c.cfg.PartyID, "")
	if err != nil {
		return err
	}

	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.ReportFalseAlarm(ctx, snapshot, c.cfg.PartyID); err != nil {
			c.logger.Error("Failed to report false alarm", zap.String("alert_id", alertID), zap.Error(err))
		}
	}
	c.afterClose(ctx, snapshot)
	return nil
}

func (c *Coordinator) close(ctx context.Context, alertID string, status models.AlertStatus, by, notes string) (*models.EmergencyAlert, error) {
	c.mu.Lock()
	a := c.active
	if a == nil || a.ID != alertID {
		c.mu.Unlock()
		return nil, c.lookupClosed(ctx, alertID)
	}
	c.stopTimerLocked()

	now := c.clock.Now()
	responseTime := now.Sub(a.CreatedAt).Milliseconds()
	a.Status = status
	a.ResolvedBy = &by
	a.ResolvedAt = &now
	a.ResponseTime = &responseTime
	if notes != "" {
		a.Notes = &notes
	}
	c.active = nil
	snapshot := a.Clone()
	c.mu.Unlock()

	c.logger.Info("Emergency alert closed",
		zap.String("alert_id", alertID),
		zap.String("status", string(status)),
		zap.String("closed_by", by),
		zap.Int64("response_time_ms", responseTime),
	)
	return snapshot, nil
}

func (c *Coordinator) afterClose(ctx context.Context, snapshot *models.EmergencyAlert) {
	if len(snapshot.EmergencyContacts) > 0 {
		report := c.notify(ctx, snapshot.EmergencyContacts, resolvedNotification(snapshot))
		snapshot.Delivery.Merge(report)
	}
	c.persistUpdate(ctx, snapshot)
	c.clearAlertSnapshot(ctx)
	c.fire(c.observers(&c.resolved), snapshot)
}

// lookupClosed 非活跃报警：已关闭返回 ErrAlertClosed，否则 ErrAlertNotFound
func (c *Coordinator) lookupClosed(ctx context.Context, alertID string) error {
	if c.deps.Repository == nil {
		return ErrAlertNotFound
	}
	if _, err := c.deps.Repository.Get(ctx, alertID); err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return ErrAlertNotFound
		}
		c.logger.Warn("Failed to look up alert", zap.String("alert_id", alertID), zap.Error(err))
		return ErrAlertNotFound
	}
	return ErrAlertClosed
}

// EscalateEmergency 升级报警：通知联系人和紧急服务号码，状态保持 active
func (c *Coordinator) EscalateEmergency(ctx context.Context, alert *models.EmergencyAlert) error {
	if alert == nil {
		return ErrAlertNotFound
	}

	c.mu.Lock()
	a := c.active
	if a == nil || a.ID != alert.ID {
		c.mu.Unlock()
		return c.lookupClosed(ctx, alert.ID)
	}
	if a.Escalated {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	now := c.clock.Now()
	a.Escalated = true
	a.EscalatedAt = &now
	snapshot := a.Clone()
	c.mu.Unlock()

	c.logger.Warn("Emergency alert escalated",
		zap.String("alert_id", snapshot.ID),
		zap.Duration("age", now.Sub(snapshot.CreatedAt)),
	)

	recipients := make([]models.EmergencyContact, 0, len(snapshot.EmergencyContacts)+len(c.cfg.AuthorityPhones))
	recipients = append(recipients, snapshot.EmergencyContacts...)
	recipients = append(recipients, authorityContacts(c.cfg.AuthorityPhones)...)
	report := c.notify(ctx, recipients, escalationNotification(snapshot))
	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.ReportEscalation(ctx, snapshot); err != nil {
			c.logger.Error("Failed to report escalation", zap.String("alert_id", snapshot.ID), zap.Error(err))
		}
	}

	c.mu.Lock()
	a.Delivery.Merge(report)
	snapshot = a.Clone()
	c.mu.Unlock()

	c.persistUpdate(ctx, snapshot)
	c.fire(c.observers(&c.escalated), snapshot)
	return nil
}

func (c *Coordinator) onEscalationTimeout(alertID string) {
	c.mu.Lock()
	a := c.active
	if a == nil || a.ID != alertID || a.Escalated {
		c.mu.Unlock()
		return
	}
	snapshot := a.Clone()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TimerTaskTimeout)
	defer cancel()
	if err := c.EscalateEmergency(ctx, snapshot); err != nil {
		c.logger.Debug("Escalation skipped", zap.String("alert_id", alertID), zap.Error(err))
	}
}

// TestEmergencySystem 生成一条测试报警并立即标记误报，不通知联系人
func (c *Coordinator) TestEmergencySystem(ctx context.Context) bool {
	alert, err := c.trigger(ctx, models.ReasonTestEmergency, true)
	if err != nil {
		c.logger.Warn("Emergency system test failed", zap.Error(err))
		return false
	}
	if err := c.MarkFalseAlarm(ctx, alert.ID); err != nil {
		c.logger.Warn("Emergency system test could not close alert", zap.Error(err))
		return false
	}
	return true
}

// IsEmergencyActive 是否存在活跃报警
func (c *Coordinator) IsEmergencyActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// ActiveAlert 活跃报警副本，无则返回 nil
func (c *Coordinator) ActiveAlert() *models.EmergencyAlert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.Clone()
}

// Alerts 报警历史；无仓库时只返回活跃报警
func (c *Coordinator) Alerts(ctx context.Context, filter models.AlertFilter) ([]*models.EmergencyAlert, error) {
	if c.deps.Repository != nil {
		return c.deps.Repository.List(ctx, filter)
	}
	result := []*models.EmergencyAlert{}
	if a := c.ActiveAlert(); a != nil && (filter.Status == "" || filter.Status == a.Status) {
		result = append(result, a)
	}
	return result, nil
}

func (c *Coordinator) OnEmergencyTriggered(cb func(*models.EmergencyAlert)) { c.register(&c.triggered, cb) }
func (c *Coordinator) OnEmergencyResolved(cb func(*models.EmergencyAlert))  { c.register(&c.resolved, cb) }
func (c *Coordinator) OnEmergencyEscalated(cb func(*models.EmergencyAlert)) { c.register(&c.escalated, cb) }

// Close 停止未触发的升级定时器
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) notify(ctx context.Context, contacts []models.EmergencyContact, n models.Notification) models.DeliveryReport {
	if c.deps.Notifier == nil || len(contacts) == 0 {
		return models.DeliveryReport{}
	}
	return c.deps.Notifier.NotifyContacts(ctx, contacts, n)
}

// persistCreate 在报警发布为 active 之前调用
func (c *Coordinator) persistCreate(ctx context.Context, a *models.EmergencyAlert) {
	if c.deps.Repository != nil {
		if err := c.deps.Repository.Create(ctx, a); err != nil {
			c.logger.Error("Failed to persist emergency alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	if c.deps.Cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.saveAlertSnapshot(ctx, a)
}

func (c *Coordinator) persistUpdate(ctx context.Context, a *models.EmergencyAlert) {
	if c.deps.Repository != nil {
		if err := c.deps.Repository.Update(ctx, a); err != nil {
			c.logger.Error("Failed to update emergency alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	if a.Status == models.AlertStatusActive {
		c.cacheIfActive(ctx, a)
	}
}

// cacheIfActive 与 clearAlertSnapshot 互斥；报警已关闭则不写快照
func (c *Coordinator) cacheIfActive(ctx context.Context, a *models.EmergencyAlert) {
	if c.deps.Cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.mu.Lock()
	current := c.active != nil && c.active.ID == a.ID
	c.mu.Unlock()
	if !current {
		return
	}
	c.saveAlertSnapshot(ctx, a)
}

func (c *Coordinator) saveAlertSnapshot(ctx context.Context, a *models.EmergencyAlert) {
	if err := c.deps.Cache.SaveAlert(ctx, a); err != nil {
		c.logger.Warn("Failed to cache alert snapshot", zap.String("alert_id", a.ID), zap.Error(err))
	}
}

func (c *Coordinator) clearAlertSnapshot(ctx context.Context) {
	if c.deps.Cache == nil {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if err := c.deps.Cache.ClearAlert(ctx); err != nil {
		c.logger.Warn("Failed to clear alert snapshot", zap.Error(err))
	}
}

func (c *Coordinator) register(list *[]func(*models.EmergencyAlert), cb func(*models.EmergencyAlert)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	*list = append(*list, cb)
}

func (c *Coordinator) observers(list *[]func(*models.EmergencyAlert)) []func(*models.EmergencyAlert) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return *list
}

// fire 每个观察者拿到独立副本
func (c *Coordinator) fire(cbs []func(*models.EmergencyAlert), a *models.EmergencyAlert) {
	for _, cb := range cbs {
		cb(a.Clone())
	}
}
