package models

import (
	"errors"
	"fmt"

	"sitter-safety/internal/geo"
)

var (
	// ErrInvalidRadius 地理围栏半径必须为正数
	ErrInvalidRadius = errors.New("invalid geofence radius")
	// ErrDuplicateZone 同一会话内围栏 ID 必须唯一
	ErrDuplicateZone = errors.New("duplicate geofence zone id")
)

// GPSLocation 单次定位结果（值类型，不可变）
type GPSLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`  // 精度半径（米）
	Timestamp int64    `json:"timestamp"` // epoch 毫秒
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// Point 转换为 geo.Point
func (l GPSLocation) Point() geo.Point {
	return geo.Point{Lat: l.Latitude, Lon: l.Longitude}
}

// GeofenceZone 圆形地理围栏
type GeofenceZone struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Center geo.Point `json:"center"`
	Radius float64   `json:"radius"` // 米
	Active bool      `json:"active"`
}

// Validate 校验中心点和半径
func (z GeofenceZone) Validate() error {
	if err := z.Center.Validate(); err != nil {
		return fmt.Errorf("zone %s: %w", z.ID, err)
	}
	if z.Radius <= 0 {
		return fmt.Errorf("zone %s: %w: %v", z.ID, ErrInvalidRadius, z.Radius)
	}
	return nil
}

// ValidateZones 逐个校验围栏并检查 ID 唯一
func ValidateZones(zones []GeofenceZone) error {
	seen := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return err
		}
		if _, dup := seen[z.ID]; dup {
			return fmt.Errorf("zone %s: %w", z.ID, ErrDuplicateZone)
		}
		seen[z.ID] = struct{}{}
	}
	return nil
}

// GeofenceViolation 越界事件（瞬时，不持久化）
type GeofenceViolation struct {
	SessionID string       `json:"session_id"`
	Zone      GeofenceZone `json:"zone"`
	Location  GPSLocation  `json:"location"`
	Distance  float64      `json:"distance"` // 距围栏中心（米）
	Timestamp int64        `json:"timestamp"`
}
