package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sitter-safety/internal/geo"
)

func TestGeofenceZone_Validate(t *testing.T) {
	ok := GeofenceZone{ID: "home", Center: geo.Point{Lat: 40, Lon: -73}, Radius: 100, Active: true}
	assert.NoError(t, ok.Validate())

	zero := ok
	zero.Radius = 0
	assert.ErrorIs(t, zero.Validate(), ErrInvalidRadius)

	bad := ok
	bad.Center.Lat = 95
	assert.ErrorIs(t, bad.Validate(), geo.ErrInvalidCoordinate)
}

func TestValidateZones(t *testing.T) {
	home := GeofenceZone{ID: "home", Center: geo.Point{Lat: 40, Lon: -73}, Radius: 100, Active: true}
	park := home
	park.ID = "park"
	assert.NoError(t, ValidateZones(nil))
	assert.NoError(t, ValidateZones([]GeofenceZone{home, park}))

	big := home
	big.Radius = 1000
	assert.ErrorIs(t, ValidateZones([]GeofenceZone{home, big}), ErrDuplicateZone)

	park.Radius = -5
	assert.ErrorIs(t, ValidateZones([]GeofenceZone{home, park}), ErrInvalidRadius)
}

func TestTrackingSession_CloneIsDeep(t *testing.T) {
	end := time.Unix(100, 0)
	s := &TrackingSession{
		ID:                "s1",
		EndTime:           &end,
		Locations:         []GPSLocation{{Latitude: 1}},
		Zones:             []GeofenceZone{{ID: "z"}},
		EmergencyContacts: []string{"c1"},
	}
	c := s.Clone()
	c.Locations[0].Latitude = 9
	c.Zones[0].ID = "other"
	c.EmergencyContacts[0] = "c2"
	*c.EndTime = time.Unix(200, 0)

	assert.Equal(t, 1.0, s.Locations[0].Latitude)
	assert.Equal(t, "z", s.Zones[0].ID)
	assert.Equal(t, "c1", s.EmergencyContacts[0])
	assert.Equal(t, end, *s.EndTime)

	var nilSession *TrackingSession
	assert.Nil(t, nilSession.Clone())
	assert.Nil(t, nilSession.LastLocation())
}

func TestEmergencyAlert_CloneIsDeep(t *testing.T) {
	notes := "ok"
	a := &EmergencyAlert{
		ID:                "a1",
		Status:            AlertStatusActive,
		EmergencyContacts: []EmergencyContact{{ID: "c1"}},
		Notes:             &notes,
	}
	c := a.Clone()
	c.EmergencyContacts[0].ID = "c2"
	*c.Notes = "changed"
	c.Status = AlertStatusResolved

	assert.Equal(t, "c1", a.EmergencyContacts[0].ID)
	assert.Equal(t, "ok", *a.Notes)
	assert.True(t, a.IsActive())
	assert.False(t, c.IsActive())
}

func TestDeliveryReport_Merge(t *testing.T) {
	r := DeliveryReport{Attempted: 2, Delivered: 1, Failed: 1, Failures: []string{"a"}, BackendReported: true}
	r.Merge(DeliveryReport{Attempted: 1, Delivered: 1})
	assert.Equal(t, 3, r.Attempted)
	assert.Equal(t, 2, r.Delivered)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, []string{"a"}, r.Failures)
	assert.True(t, r.BackendReported)
}
