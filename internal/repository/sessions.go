package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

// SessionsRepository 跟踪会话审计仓库
type SessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionsRepository 创建会话仓库
func NewSessionsRepository(db *sql.DB, logger *zap.Logger) *SessionsRepository {
	return &SessionsRepository{db: db, logger: logger}
}

// SaveSession 写入会话（按 session_id 覆盖）
func (r *SessionsRepository) SaveSession(ctx context.Context, s *models.TrackingSession) error {
	zones := s.Zones
	if zones == nil {
		zones = []models.GeofenceZone{}
	}
	locations := s.Locations
	if locations == nil {
		locations = []models.GPSLocation{}
	}
	contacts := s.EmergencyContacts
	if contacts == nil {
		contacts = []string{}
	}

	zonesJSON, err := json.Marshal(zones)
	if err != nil {
		return fmt.Errorf("failed to marshal zones: %w", err)
	}
	locationsJSON, err := json.Marshal(locations)
	if err != nil {
		return fmt.Errorf("failed to marshal locations: %w", err)
	}
	contactsJSON, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}

	query := `
		INSERT INTO tracking_sessions (
			session_id, sitter_id, parent_id, booking_id, start_time, end_time,
			active, zones, locations, emergency_contacts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			active = EXCLUDED.active,
			zones = EXCLUDED.zones,
			locations = EXCLUDED.locations,
			emergency_contacts = EXCLUDED.emergency_contacts
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.SitterID,
		s.ParentID,
		s.BookingID,
		s.StartTime,
		s.EndTime,
		s.Active,
		zonesJSON,
		locationsJSON,
		contactsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save tracking session: %w", err)
	}

	r.logger.Debug("Tracking session saved",
		zap.String("session_id", s.ID),
		zap.Int("locations", len(s.Locations)),
	)
	return nil
}
