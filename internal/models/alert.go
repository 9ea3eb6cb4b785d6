package models

import (
	"errors"
	"time"
)

// AlertStatus 报警状态
type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusFalseAlarm AlertStatus = "false_alarm"
)

// 触发方角色
const (
	RoleSitter = "sitter"
	RoleParent = "parent"
)

// 常用触发原因（允许自由文本）
const (
	ReasonManualSOS         = "manual_sos"
	ReasonGeofenceViolation = "geofence_violation"
	ReasonTestEmergency     = "test_emergency"
)

// 通知类别
const (
	NotificationEmergency  = "emergency"
	NotificationEscalation = "escalation"
	NotificationResolved   = "resolved"
)

// EmergencyContact 紧急联系人
type EmergencyContact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	PushToken    string `json:"push_token,omitempty"`
}

// DeliveryReport 通知投递结果
// 区分"联系人可能未收到通知"与"无法连接服务器"
type DeliveryReport struct {
	Attempted       int      `json:"attempted"`
	Delivered       int      `json:"delivered"`
	Failed          int      `json:"failed"`
	BackendReported bool     `json:"backend_reported"`
	Failures        []string `json:"failures,omitempty"`
}

// Merge 合并另一份投递结果（BackendReported 不合并）
func (r *DeliveryReport) Merge(o DeliveryReport) {
	r.Attempted += o.Attempted
	r.Delivered += o.Delivered
	r.Failed += o.Failed
	r.Failures = append(r.Failures, o.Failures...)
}

// Notification 发给联系人的通知内容
type Notification struct {
	Class string            `json:"class"` // emergency, escalation, resolved
	Title string            `json:"title"`
	Body  string            `json:"body"`
	SMS   string            `json:"sms"`
	Data  map[string]string `json:"data,omitempty"`
}

// EmergencyAlert 紧急报警（对应 emergency_alerts 表，永不删除）
type EmergencyAlert struct {
	ID                string             `json:"id"`
	SessionID         string             `json:"session_id"`
	TriggeredBy       string             `json:"triggered_by"`
	TriggeredByRole   string             `json:"triggered_by_role"` // sitter, parent
	Reason            string             `json:"reason"`
	Location          GPSLocation        `json:"location"`
	CreatedAt         time.Time          `json:"created_at"`
	Status            AlertStatus        `json:"status"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"` // 触发时快照
	ResponseTime      *int64             `json:"response_time,omitempty"` // 毫秒
	ResolvedBy        *string            `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time         `json:"resolved_at,omitempty"`
	Notes             *string            `json:"notes,omitempty"`
	Escalated         bool               `json:"escalated"`
	EscalatedAt       *time.Time         `json:"escalated_at,omitempty"`
	Delivery          DeliveryReport     `json:"delivery"`
}

// IsActive 是否仍处于 active 状态
func (a *EmergencyAlert) IsActive() bool {
	return a != nil && a.Status == AlertStatusActive
}

// Clone 深拷贝
func (a *EmergencyAlert) Clone() *EmergencyAlert {
	if a == nil {
		return nil
	}
	c := *a
	c.EmergencyContacts = append([]EmergencyContact(nil), a.EmergencyContacts...)
	c.Delivery.Failures = append([]string(nil), a.Delivery.Failures...)
	if a.ResponseTime != nil {
		v := *a.ResponseTime
		c.ResponseTime = &v
	}
	if a.ResolvedBy != nil {
		v := *a.ResolvedBy
		c.ResolvedBy = &v
	}
	if a.ResolvedAt != nil {
		v := *a.ResolvedAt
		c.ResolvedAt = &v
	}
	if a.Notes != nil {
		v := *a.Notes
		c.Notes = &v
	}
	if a.EscalatedAt != nil {
		v := *a.EscalatedAt
		c.EscalatedAt = &v
	}
	return &c
}

// AlertFilter 报警查询条件
type AlertFilter struct {
	Status    AlertStatus
	SessionID string
	Limit     int
}

// ErrAlertNotFound 报警不存在
var ErrAlertNotFound = errors.New("emergency alert not found")
