package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceMeters_Identical(t *testing.T) {
	p := Point{Lat: 40.7128, Lon: -74.0060}
	d, err := DistanceMeters(p, p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestDistanceMeters_OneDegreeLongitudeAtEquator(t *testing.T) {
	d, err := DistanceMeters(Point{0, 0}, Point{0, 1})
	require.NoError(t, err)
	assert.InEpsilon(t, 111195.0, d, 0.01)
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	a := Point{Lat: 40.0, Lon: -73.0}
	b := Point{Lat: 34.05, Lon: -118.25}
	ab, err := DistanceMeters(a, b)
	require.NoError(t, err)
	ba, err := DistanceMeters(b, a)
	require.NoError(t, err)
	assert.InDelta(t, ab, ba, 1e-6)
}

func TestDistanceMeters_Monotonic(t *testing.T) {
	origin := Point{Lat: 10, Lon: 10}
	prev := 0.0
	for _, dLat := range []float64{0.001, 0.01, 0.1, 1, 10} {
		d, err := DistanceMeters(origin, Point{Lat: 10 + dLat, Lon: 10})
		require.NoError(t, err)
		assert.Greater(t, d, prev)
		prev = d
	}
}

func TestDistanceMeters_Antipodal(t *testing.T) {
	d, err := DistanceMeters(Point{0, 0}, Point{0, 180})
	require.NoError(t, err)
	assert.InDelta(t, math.Pi*EarthRadiusMeters, d, 1)
}

func TestDistanceMeters_InvalidCoordinate(t *testing.T) {
	cases := []Point{
		{Lat: 91, Lon: 0},
		{Lat: -90.5, Lon: 0},
		{Lat: 0, Lon: 180.1},
		{Lat: math.NaN(), Lon: 0},
	}
	for _, p := range cases {
		_, err := DistanceMeters(Point{}, p)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	}
}

func TestMustDistanceMeters_Panics(t *testing.T) {
	assert.Panics(t, func() { MustDistanceMeters(Point{Lat: 100}, Point{}) })
	assert.NotPanics(t, func() { MustDistanceMeters(Point{Lat: 1}, Point{}) })
}
