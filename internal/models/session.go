package models

import "time"

// TrackingSession 跟踪会话（对应 tracking_sessions 表）
type TrackingSession struct {
	ID                string         `json:"id"`
	SitterID          string         `json:"sitter_id"` // 被跟踪方
	ParentID          string         `json:"parent_id"` // 监护方
	BookingID         string         `json:"booking_id"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	Locations         []GPSLocation  `json:"locations"` // 只追加，按时间排序
	Zones             []GeofenceZone `json:"zones"`
	Active            bool           `json:"active"`
	EmergencyContacts []string       `json:"emergency_contacts"` // 联系人ID
}

// Clone 深拷贝，供调用方只读使用
func (s *TrackingSession) Clone() *TrackingSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	c.Locations = append([]GPSLocation(nil), s.Locations...)
	c.Zones = append([]GeofenceZone(nil), s.Zones...)
	c.EmergencyContacts = append([]string(nil), s.EmergencyContacts...)
	return &c
}

// LastLocation 最近一次记录的位置
func (s *TrackingSession) LastLocation() *GPSLocation {
	if s == nil || len(s.Locations) == 0 {
		return nil
	}
	loc := s.Locations[len(s.Locations)-1]
	return &loc
}
