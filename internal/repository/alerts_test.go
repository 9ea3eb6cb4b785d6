package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

func setupMockAlertsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlertsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewAlertsRepository(db, zap.NewNop())
	return db, mock, repo
}

var alertRowColumns = []string{
	"alert_id", "session_id", "triggered_by", "triggered_by_role", "reason", "location",
	"created_at", "status", "emergency_contacts", "response_time_ms", "resolved_by", "resolved_at",
	"notes", "escalated", "escalated_at", "delivery",
}

func testAlert() *models.EmergencyAlert {
	return &models.EmergencyAlert{
		ID:              uuid.New().String(),
		SessionID:       "session-1",
		TriggeredBy:     "sitter-1",
		TriggeredByRole: models.RoleSitter,
		Reason:          models.ReasonManualSOS,
		Location:        models.GPSLocation{Latitude: 40, Longitude: -73, Accuracy: 5, Timestamp: 1000},
		CreatedAt:       time.Now(),
		Status:          models.AlertStatusActive,
		EmergencyContacts: []models.EmergencyContact{
			{ID: "c1", Name: "Mom", Relationship: "parent", Phone: "+15550001"},
		},
	}
}

// ============================================
// 写入
// ============================================

func TestCreate_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	alert := testAlert()
	mock.ExpectExec(`INSERT INTO emergency_alerts`).
		WithArgs(alert.ID, "session-1", "sitter-1", "sitter", "manual_sos",
			sqlmock.AnyArg(), alert.CreatedAt, "active", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_Duplicate(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO emergency_alerts`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(context.Background(), testAlert())
	assert.ErrorIs(t, err, ErrDuplicateAlert)
}

func TestUpdate_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE emergency_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), testAlert())
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
}

func TestUpdate_Resolved(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	alert := testAlert()
	alert.Status = models.AlertStatusResolved
	rt := int64(120000)
	by := "parent-1"
	alert.ResponseTime = &rt
	alert.ResolvedBy = &by

	mock.ExpectExec(`UPDATE emergency_alerts`).
		WithArgs(alert.ID, "resolved", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), alert))
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 查询
// ============================================

func TestGet_Success(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	createdAt := time.Now().Truncate(time.Millisecond)
	resolvedAt := createdAt.Add(2 * time.Minute)
	location, _ := json.Marshal(models.GPSLocation{Latitude: 40, Longitude: -73, Timestamp: 1000})
	contacts, _ := json.Marshal([]models.EmergencyContact{{ID: "c1", Name: "Mom"}})
	delivery, _ := json.Marshal(models.DeliveryReport{Attempted: 1, Delivered: 1, BackendReported: true})

	rows := sqlmock.NewRows(alertRowColumns).AddRow(
		"alert-1", "session-1", "sitter-1", "sitter", "manual_sos", location,
		createdAt, "resolved", contacts, int64(120000), "parent-1", resolvedAt,
		nil, false, nil, delivery,
	)
	mock.ExpectQuery(`FROM emergency_alerts WHERE alert_id = \$1`).
		WithArgs("alert-1").
		WillReturnRows(rows)

	alert, err := repo.Get(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, alert.Status)
	assert.Equal(t, 40.0, alert.Location.Latitude)
	require.Len(t, alert.EmergencyContacts, 1)
	assert.Equal(t, "Mom", alert.EmergencyContacts[0].Name)
	require.NotNil(t, alert.ResponseTime)
	assert.Equal(t, int64(120000), *alert.ResponseTime)
	require.NotNil(t, alert.ResolvedBy)
	assert.Equal(t, "parent-1", *alert.ResolvedBy)
	require.NotNil(t, alert.ResolvedAt)
	assert.Nil(t, alert.Notes)
	assert.Nil(t, alert.EscalatedAt)
	assert.True(t, alert.Delivery.BackendReported)
}

func TestGet_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM emergency_alerts WHERE alert_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	alert, err := repo.Get(context.Background(), "missing")
	assert.Nil(t, alert)
	assert.ErrorIs(t, err, models.ErrAlertNotFound)
}

func TestList_WithFilters(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	location, _ := json.Marshal(models.GPSLocation{Latitude: 1, Longitude: 2})
	rows := sqlmock.NewRows(alertRowColumns).
		AddRow("a2", "s1", "sitter-1", "sitter", "manual_sos", location, time.Now(), "active",
			[]byte("[]"), nil, nil, nil, nil, true, time.Now(), []byte("{}")).
		AddRow("a1", "s1", "sitter-1", "sitter", "geofence_violation", location, time.Now().Add(-time.Hour), "active",
			[]byte("[]"), nil, nil, nil, nil, false, nil, []byte("{}"))

	mock.ExpectQuery(`FROM emergency_alerts WHERE status = \$1 AND session_id = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("active", "s1", 10).
		WillReturnRows(rows)

	alerts, err := repo.List(context.Background(), models.AlertFilter{
		Status:    models.AlertStatusActive,
		SessionID: "s1",
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "a2", alerts[0].ID)
	assert.True(t, alerts[0].Escalated)
	assert.NotNil(t, alerts[0].EscalatedAt)
	assert.Empty(t, alerts[1].EmergencyContacts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_NoFilters(t *testing.T) {
	db, mock, repo := setupMockAlertsDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM emergency_alerts ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows(alertRowColumns))

	alerts, err := repo.List(context.Background(), models.AlertFilter{})
	require.NoError(t, err)
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestSaveSession_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSessionsRepository(db, zap.NewNop())
	end := time.Now()
	s := &models.TrackingSession{
		ID:        "s1",
		SitterID:  "sitter-1",
		ParentID:  "parent-1",
		StartTime: end.Add(-time.Hour),
		EndTime:   &end,
		Locations: []models.GPSLocation{{Latitude: 1, Longitude: 2}},
	}

	mock.ExpectExec(`ON CONFLICT \(session_id\) DO UPDATE`).
		WithArgs("s1", "sitter-1", "parent-1", "", s.StartTime, sqlmock.AnyArg(), false,
			[]byte("[]"), sqlmock.AnyArg(), []byte("[]")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveSession(context.Background(), s))
	require.NoError(t, mock.ExpectationsWereMet())
}
