package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters 地球平均半径（米）
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate 坐标超出合法范围
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point 经纬度坐标（十进制度）
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate 校验纬度 [-90, 90]、经度 [-180, 180]
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return fmt.Errorf("%w: NaN", ErrInvalidCoordinate)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, p.Lon)
	}
	return nil
}

// DistanceMeters 计算两点间大圆距离（Haversine）
func DistanceMeters(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

// MustDistanceMeters 用于已校验过的坐标，非法输入直接 panic
func MustDistanceMeters(a, b Point) float64 {
	d, err := DistanceMeters(a, b)
	if err != nil {
		panic(err)
	}
	return d
}

func haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// 浮点误差可能让 h 略大于 1
	h = math.Min(1, h)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
