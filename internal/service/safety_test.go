package service

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sitter-safety/internal/config"
	"sitter-safety/internal/location"
	"sitter-safety/internal/models"
	"sitter-safety/internal/notify"
	"sitter-safety/internal/repository"
)

// fakePlatform 手动推送定位
type fakePlatform struct {
	mu   sync.Mutex
	cb   func(models.GPSLocation)
	last *models.GPSLocation
}

func (p *fakePlatform) RequestForegroundPermission(context.Context) (bool, error) { return true, nil }
func (p *fakePlatform) RequestBackgroundPermission(context.Context) (bool, error) { return true, nil }

func (p *fakePlatform) GetCurrentPosition(context.Context, location.Accuracy) (models.GPSLocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return models.GPSLocation{}, location.ErrNoFix
	}
	return *p.last, nil
}

func (p *fakePlatform) WatchPosition(_ context.Context, _ location.WatchOptions, cb func(models.GPSLocation)) (location.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
	return handleFunc(func() {
		p.mu.Lock()
		p.cb = nil
		p.mu.Unlock()
	}), nil
}

func (p *fakePlatform) push(loc models.GPSLocation) {
	p.mu.Lock()
	p.last = &loc
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(loc)
	}
}

type handleFunc func()

func (f handleFunc) Remove() { f() }

type recordingGateway struct {
	mu   sync.Mutex
	push []string
	sms  []string
}

func (g *recordingGateway) SendPush(_ context.Context, token, _, _ string, _ map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.push = append(g.push, token)
	return nil
}

func (g *recordingGateway) SendSMS(_ context.Context, phone, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sms = append(g.sms, phone)
	return nil
}

func (g *recordingGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.push), len(g.sms)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Tracking.TimeInterval = time.Second
	cfg.Tracking.DistanceInterval = 1
	cfg.Tracking.ReportQueueSize = 16
	cfg.Emergency.PartyID = "sitter-1"
	cfg.Emergency.PartyRole = models.RoleSitter
	cfg.Emergency.EscalationTimeout = 5 * time.Minute
	cfg.Emergency.AutoSOSOnGeofence = true
	cfg.Emergency.FanoutLimit = 4
	cfg.Cache.KeyPrefix = "test:"
	cfg.Cache.StorePrefix = "test:store:"
	cfg.Cache.SnapshotTTL = 60
	return cfg
}

// northOf 返回中心点正北方向 meters 米处的坐标
func northOf(lat, lon, meters float64) (float64, float64) {
	return lat + meters/6371000*180/math.Pi, lon
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestGeofenceViolationTriggersSOS(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	platform := &fakePlatform{}
	gateway := &recordingGateway{}
	alerts := repository.NewMemoryAlertsRepository()
	sessions := repository.NewMemorySessionsRepository()

	s := New(testConfig(), Components{
		Platform: platform,
		Redis:    rdb,
		Gateway:  gateway,
		Alerts:   alerts,
		Sessions: sessions,
		Clock:    clock.NewMock(),
	}, zap.NewNop())
	defer s.Emergency().Close()

	ctx := context.Background()
	require.NoError(t, s.Contacts().SaveContact(ctx, models.EmergencyContact{
		ID: "c1", Name: "Mom", Relationship: "parent", Phone: "+15550001", PushToken: "tok-1",
	}))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	// 1. 开始会话：以 (40,-73) 为中心、半径 500 米的围栏
	resp := postJSON(t, srv.URL+"/api/v1/tracking/sessions", map[string]any{
		"session_id": "session-1",
		"sitter_id":  "sitter-1",
		"parent_id":  "parent-1",
		"zones": []map[string]any{{
			"id": "home", "name": "Home", "radius": 500, "active": true,
			"center": map[string]float64{"latitude": 40, "longitude": -73},
		}},
		"emergency_contacts": []string{"c1"},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, s.Tracking().IsTracking())

	// 2. 围栏内样本不报警
	lat, lon := northOf(40, -73, 100)
	platform.push(models.GPSLocation{Latitude: lat, Longitude: lon, Timestamp: 1000})
	assert.False(t, s.Emergency().IsEmergencyActive())

	// 3. 600 米外：越界并自动触发 SOS
	lat, lon = northOf(40, -73, 600)
	platform.push(models.GPSLocation{Latitude: lat, Longitude: lon, Timestamp: 2000})

	require.Eventually(t, func() bool {
		list, _ := alerts.List(ctx, models.AlertFilter{})
		return len(list) == 1 && list[0].Delivery.Delivered == 2
	}, 2*time.Second, 10*time.Millisecond)

	alert := s.Emergency().ActiveAlert()
	require.NotNil(t, alert)
	assert.Equal(t, models.ReasonGeofenceViolation, alert.Reason)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, "session-1", alert.SessionID)
	assert.Equal(t, "sitter-1", alert.TriggeredBy)
	require.Len(t, alert.EmergencyContacts, 1)
	pushes, sms := gateway.counts()
	assert.Equal(t, 1, pushes)
	assert.Equal(t, 1, sms)

	// 4. 监护方解除
	resp = postJSON(t, srv.URL+"/api/v1/emergency/alerts/"+alert.ID+"/resolve", map[string]string{
		"resolved_by": "parent-1",
		"notes":       "called sitter",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.Emergency().IsEmergencyActive())

	stored, err := alerts.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, stored.Status)
	require.NotNil(t, stored.ResolvedBy)
	assert.Equal(t, "parent-1", *stored.ResolvedBy)

	// 5. 结束会话，后台任务完成后会话已写入仓库
	resp = postJSON(t, srv.URL+"/api/v1/tracking/sessions/stop", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	s.Tracking().Close()

	saved := sessions.GetSession("session-1")
	require.NotNil(t, saved)
	assert.False(t, saved.Active)
	assert.Len(t, saved.Locations, 2)

	snap, err := s.Snapshots().GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAutoSOSDisabled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.Emergency.AutoSOSOnGeofence = false
	platform := &fakePlatform{}
	s := New(cfg, Components{
		Platform: platform,
		Redis:    rdb,
		Gateway:  &recordingGateway{},
		Alerts:   repository.NewMemoryAlertsRepository(),
		Clock:    clock.NewMock(),
	}, zap.NewNop())
	defer s.Tracking().Close()

	var violations int
	var mu sync.Mutex
	s.Tracking().OnGeofenceViolation(func(models.GeofenceViolation) {
		mu.Lock()
		violations++
		mu.Unlock()
	})

	require.NoError(t, s.Tracking().Start(context.Background(), &models.TrackingSession{
		SitterID: "sitter-1",
		ParentID: "parent-1",
		Zones: []models.GeofenceZone{{
			ID: "home", Center: models.GPSLocation{Latitude: 40, Longitude: -73}.Point(), Radius: 500, Active: true,
		}},
	}))

	lat, lon := northOf(40, -73, 600)
	platform.push(models.GPSLocation{Latitude: lat, Longitude: lon, Timestamp: 1000})

	mu.Lock()
	assert.Equal(t, 1, violations)
	mu.Unlock()
	assert.Never(t, s.Emergency().IsEmergencyActive, 100*time.Millisecond, 10*time.Millisecond)
}

func TestBuildGateways(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	cfg := testConfig()
	cfg.Notify.GatewayURL = "http://localhost:1"
	cfg.Notify.OutboxStream = "test:notifications"

	cfg.Notify.PushProvider = "stream"
	cfg.Notify.SMSProvider = "http"
	gw, delivery, err := buildGateways(ctx, cfg, rdb, zap.NewNop())
	require.NoError(t, err)
	router, ok := gw.(*notify.Router)
	require.True(t, ok)
	assert.IsType(t, &notify.StreamGateway{}, router.Push)
	assert.IsType(t, &notify.HTTPGateway{}, router.SMS)
	deliveryRouter, ok := delivery.(*notify.Router)
	require.True(t, ok)
	assert.IsType(t, &notify.HTTPGateway{}, deliveryRouter.Push)

	cfg.Notify.PushProvider = "fcm"
	_, _, err = buildGateways(ctx, cfg, rdb, zap.NewNop())
	assert.Error(t, err)

	cfg.Notify.PushProvider = "pigeon"
	_, _, err = buildGateways(ctx, cfg, rdb, zap.NewNop())
	assert.Error(t, err)
}
