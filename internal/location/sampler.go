package location

import (
	"time"

	"sitter-safety/internal/geo"
	"sitter-safety/internal/models"
)

// Sampler 按时间或距离间隔过滤定位样本
type Sampler struct {
	timeInterval     time.Duration
	distanceInterval float64
	last             *models.GPSLocation
}

func NewSampler(opts WatchOptions) *Sampler {
	opts = opts.withDefaults()
	return &Sampler{timeInterval: opts.TimeInterval, distanceInterval: opts.DistanceInterval}
}

// Accept 首个样本总是接受；之后时间或距离任一达到间隔即接受
func (s *Sampler) Accept(loc models.GPSLocation) bool {
	if s.last == nil {
		s.keep(loc)
		return true
	}
	if loc.Timestamp < s.last.Timestamp {
		return false
	}

	elapsed := time.Duration(loc.Timestamp-s.last.Timestamp) * time.Millisecond
	if elapsed >= s.timeInterval {
		s.keep(loc)
		return true
	}

	d, err := geo.DistanceMeters(s.last.Point(), loc.Point())
	if err != nil {
		return false
	}
	if d >= s.distanceInterval {
		s.keep(loc)
		return true
	}
	return false
}

func (s *Sampler) keep(loc models.GPSLocation) {
	s.last = &loc
}
