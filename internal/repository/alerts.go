package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"sitter-safety/internal/models"
)

// ErrDuplicateAlert 报警ID已存在
var ErrDuplicateAlert = errors.New("emergency alert already exists")

// pgUniqueViolation PostgreSQL 唯一约束冲突错误码
const pgUniqueViolation = "23505"

const alertColumns = `alert_id, session_id, triggered_by, triggered_by_role, reason, location,
	created_at, status, emergency_contacts, response_time_ms, resolved_by, resolved_at,
	notes, escalated, escalated_at, delivery`

// AlertsRepository 紧急报警审计仓库
// 报警记录只插入和更新，从不删除
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// Create 插入报警记录（触发时、通知发送前调用）
func (r *AlertsRepository) Create(ctx context.Context, alert *models.EmergencyAlert) error {
	location, err := json.Marshal(alert.Location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	contacts, err := json.Marshal(contactsOrEmpty(alert.EmergencyContacts))
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}
	delivery, err := json.Marshal(alert.Delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	query := `
		INSERT INTO emergency_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID,
		alert.SessionID,
		alert.TriggeredBy,
		alert.TriggeredByRole,
		alert.Reason,
		location,
		alert.CreatedAt,
		string(alert.Status),
		contacts,
		alert.ResponseTime,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.Notes,
		alert.Escalated,
		alert.EscalatedAt,
		delivery,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateAlert, alert.ID)
		}
		return fmt.Errorf("failed to create emergency alert: %w", err)
	}

	r.logger.Debug("Emergency alert created",
		zap.String("alert_id", alert.ID),
		zap.String("reason", alert.Reason),
	)
	return nil
}

// Update 更新报警的可变字段（状态、解除、升级、投递结果）
func (r *AlertsRepository) Update(ctx context.Context, alert *models.EmergencyAlert) error {
	delivery, err := json.Marshal(alert.Delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}

	query := `
		UPDATE emergency_alerts
		SET status = $2,
		    response_time_ms = $3,
		    resolved_by = $4,
		    resolved_at = $5,
		    notes = $6,
		    escalated = $7,
		    escalated_at = $8,
		    delivery = $9
		WHERE alert_id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.ID,
		string(alert.Status),
		alert.ResponseTime,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.Notes,
		alert.Escalated,
		alert.EscalatedAt,
		delivery,
	)
	if err != nil {
		return fmt.Errorf("failed to update emergency alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrAlertNotFound, alert.ID)
	}
	return nil
}

// Get 按ID查询报警
func (r *AlertsRepository) Get(ctx context.Context, id string) (*models.EmergencyAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE alert_id = $1`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, id)
		}
		return nil, fmt.Errorf("failed to get emergency alert: %w", err)
	}
	return alert, nil
}

// List 按条件查询报警，按创建时间倒序
func (r *AlertsRepository) List(ctx context.Context, filter models.AlertFilter) ([]*models.EmergencyAlert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM emergency_alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.EmergencyAlert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emergency alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate emergency alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.EmergencyAlert, error) {
	var (
		alert        models.EmergencyAlert
		status       string
		locationJSON []byte
		contactsJSON []byte
		deliveryJSON []byte
		responseTime sql.NullInt64
		resolvedBy   sql.NullString
		resolvedAt   sql.NullTime
		notes        sql.NullString
		escalatedAt  sql.NullTime
	)
	err := row.Scan(
		&alert.ID,
		&alert.SessionID,
		&alert.TriggeredBy,
		&alert.TriggeredByRole,
		&alert.Reason,
		&locationJSON,
		&alert.CreatedAt,
		&status,
		&contactsJSON,
		&responseTime,
		&resolvedBy,
		&resolvedAt,
		&notes,
		&alert.Escalated,
		&escalatedAt,
		&deliveryJSON,
	)
	if err != nil {
		return nil, err
	}

	alert.Status = models.AlertStatus(status)
	if err := json.Unmarshal(locationJSON, &alert.Location); err != nil {
		return nil, fmt.Errorf("invalid location json: %w", err)
	}
	if len(contactsJSON) > 0 {
		if err := json.Unmarshal(contactsJSON, &alert.EmergencyContacts); err != nil {
			return nil, fmt.Errorf("invalid contacts json: %w", err)
		}
	}
	if len(deliveryJSON) > 0 {
		if err := json.Unmarshal(deliveryJSON, &alert.Delivery); err != nil {
			return nil, fmt.Errorf("invalid delivery json: %w", err)
		}
	}

	// 处理可空字段
	if responseTime.Valid {
		v := responseTime.Int64
		alert.ResponseTime = &v
	}
	if resolvedBy.Valid {
		v := resolvedBy.String
		alert.ResolvedBy = &v
	}
	if resolvedAt.Valid {
		v := resolvedAt.Time
		alert.ResolvedAt = &v
	}
	if notes.Valid {
		v := notes.String
		alert.Notes = &v
	}
	if escalatedAt.Valid {
		v := escalatedAt.Time
		alert.EscalatedAt = &v
	}
	return &alert, nil
}

func contactsOrEmpty(c []models.EmergencyContact) []models.EmergencyContact {
	if c == nil {
		return []models.EmergencyContact{}
	}
	return c
}
