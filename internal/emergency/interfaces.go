package emergency

import (
	"context"

	"sitter-safety/internal/models"
)

// LocationProvider 当前位置（*tracking.Manager 实现）
type LocationProvider interface {
	CurrentLocation(ctx context.Context) *models.GPSLocation
}

// SessionProvider 当前跟踪会话（*tracking.Manager 实现）
type SessionProvider interface {
	CurrentSession() *models.TrackingSession
}

// ContactSource 联系人解析（*store.ContactBook 实现）
type ContactSource interface {
	EmergencyContacts(ctx context.Context, ids []string) ([]models.EmergencyContact, error)
}

// Notifier 联系人通知扇出（*notify.Fanout 实现）
type Notifier interface {
	NotifyContacts(ctx context.Context, contacts []models.EmergencyContact, n models.Notification) models.DeliveryReport
}

// AlertReporter 后端上报（*reporting.Reporter 实现）
type AlertReporter interface {
	ReportAlert(ctx context.Context, alert *models.EmergencyAlert) error
	ReportResolution(ctx context.Context, alert *models.EmergencyAlert) error
	ReportEscalation(ctx context.Context, alert *models.EmergencyAlert) error
	ReportFalseAlarm(ctx context.Context, alert *models.EmergencyAlert, markedBy string) error
}

// AlertRepository 报警审计记录
// Get 找不到时返回 models.ErrAlertNotFound
type AlertRepository interface {
	Create(ctx context.Context, alert *models.EmergencyAlert) error
	Update(ctx context.Context, alert *models.EmergencyAlert) error
	Get(ctx context.Context, id string) (*models.EmergencyAlert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.EmergencyAlert, error)
}

// Haptics 设备震动（*mqtt.DeviceSignaler 实现）
type Haptics interface {
	Pulse(ctx context.Context) error
}

// SnapshotCache 活跃报警快照
type SnapshotCache interface {
	SaveAlert(ctx context.Context, alert *models.EmergencyAlert) error
	ClearAlert(ctx context.Context) error
}
