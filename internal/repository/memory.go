package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sitter-safety/internal/models"
)

// MemoryAlertsRepository 内存报警仓库（未启用数据库时使用）
type MemoryAlertsRepository struct {
	mu     sync.RWMutex
	alerts map[string]*models.EmergencyAlert
}

func NewMemoryAlertsRepository() *MemoryAlertsRepository {
	return &MemoryAlertsRepository{alerts: make(map[string]*models.EmergencyAlert)}
}

func (r *MemoryAlertsRepository) Create(_ context.Context, alert *models.EmergencyAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAlert, alert.ID)
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *MemoryAlertsRepository) Update(_ context.Context, alert *models.EmergencyAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrAlertNotFound, alert.ID)
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *MemoryAlertsRepository) Get(_ context.Context, id string) (*models.EmergencyAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrAlertNotFound, id)
	}
	return a.Clone(), nil
}

func (r *MemoryAlertsRepository) List(_ context.Context, filter models.AlertFilter) ([]*models.EmergencyAlert, error) {
	r.mu.RLock()
	out := []*models.EmergencyAlert{}
	for _, a := range r.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.SessionID != "" && a.SessionID != filter.SessionID {
			continue
		}
		out = append(out, a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MemorySessionsRepository 内存会话仓库
type MemorySessionsRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.TrackingSession
}

func NewMemorySessionsRepository() *MemorySessionsRepository {
	return &MemorySessionsRepository{sessions: make(map[string]*models.TrackingSession)}
}

func (r *MemorySessionsRepository) SaveSession(_ context.Context, s *models.TrackingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s.Clone()
	return nil
}

// GetSession 查询已保存的会话，不存在返回 nil
func (r *MemorySessionsRepository) GetSession(id string) *models.TrackingSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id].Clone()
}
