package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sitter-safety/internal/models"
)

var (
	ErrNoCredentials = errors.New("no auth token in credential store")
	ErrTokenExpired  = errors.New("auth token expired")
)

// 后端接口
const (
	PathLocation   = "/api/tracking/location"
	PathSessionEnd = "/api/tracking/session/end"
	PathAlert      = "/api/emergency/alert"
	PathResolve    = "/api/emergency/resolve"
	PathEscalate   = "/api/emergency/escalate"
	PathFalseAlarm = "/api/emergency/false-alarm"
)

// CredentialStore 凭据读取（*store.CredentialStore 实现）
type CredentialStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// Config 上报配置
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	TokenKey     string
	LocationRate float64 // 每秒允许的位置上报数，<=0 不限速
}

// Reporter 后端上报客户端，负载加密后携带 Bearer token 发送
type Reporter struct {
	httpClient *resty.Client
	creds      CredentialStore
	tokenKey   string
	cipher     *Cipher
	limiter    *rate.Limiter
	now        func() time.Time
	logger     *zap.Logger
}

// NewReporter 创建上报客户端
func NewReporter(cfg Config, creds CredentialStore, c *Cipher, logger *zap.Logger) *Reporter {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	limit := rate.Inf
	if cfg.LocationRate > 0 {
		limit = rate.Limit(cfg.LocationRate)
	}
	tokenKey := cfg.TokenKey
	if tokenKey == "" {
		tokenKey = "auth_token"
	}

	return &Reporter{
		httpClient: client,
		creds:      creds,
		tokenKey:   tokenKey,
		cipher:     c,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
		logger:     logger,
	}
}

// ReportLocation 上报位置；超出速率的样本直接丢弃
func (r *Reporter) ReportLocation(ctx context.Context, sessionID string, loc models.GPSLocation) error {
	if !r.limiter.Allow() {
		r.logger.Debug("Location report rate limited", zap.String("session_id", sessionID))
		return nil
	}
	encrypted, err := r.cipher.Encrypt(loc)
	if err != nil {
		return fmt.Errorf("encrypt location: %w", err)
	}
	return r.post(ctx, PathLocation, map[string]any{
		"sessionId":         sessionID,
		"encryptedLocation": encrypted,
		"timestamp":         loc.Timestamp,
	})
}

// ReportSessionEnd 上报会话最终记录
func (r *Reporter) ReportSessionEnd(ctx context.Context, session *models.TrackingSession) error {
	encrypted, err := r.cipher.Encrypt(session)
	if err != nil {
		return fmt.Errorf("encrypt session: %w", err)
	}
	body := map[string]any{
		"sessionId":        session.ID,
		"encryptedSession": encrypted,
	}
	if session.EndTime != nil {
		body["endTime"] = *session.EndTime
	}
	return r.post(ctx, PathSessionEnd, body)
}

// ReportAlert 上报新报警
func (r *Reporter) ReportAlert(ctx context.Context, alert *models.EmergencyAlert) error {
	encrypted, err := r.cipher.Encrypt(alert)
	if err != nil {
		return fmt.Errorf("encrypt alert: %w", err)
	}
	return r.post(ctx, PathAlert, map[string]any{
		"encryptedAlert":            encrypted,
		"priority":                  "critical",
		"requiresImmediateResponse": true,
	})
}

// ReportResolution 上报处理结果
func (r *Reporter) ReportResolution(ctx context.Context, alert *models.EmergencyAlert) error {
	return r.post(ctx, PathResolve, map[string]any{
		"alertId":      alert.ID,
		"resolvedBy":   alert.ResolvedBy,
		"resolvedAt":   alert.ResolvedAt,
		"responseTime": alert.ResponseTime,
		"notes":        alert.Notes,
	})
}

// ReportEscalation 上报升级
func (r *Reporter) ReportEscalation(ctx context.Context, alert *models.EmergencyAlert) error {
	return r.post(ctx, PathEscalate, map[string]any{
		"alertId":     alert.ID,
		"escalatedAt": alert.EscalatedAt,
	})
}

// ReportFalseAlarm 上报误报
func (r *Reporter) ReportFalseAlarm(ctx context.Context, alert *models.EmergencyAlert, markedBy string) error {
	markedAt := r.now()
	if alert.ResolvedAt != nil {
		markedAt = *alert.ResolvedAt
	}
	return r.post(ctx, PathFalseAlarm, map[string]any{
		"alertId":  alert.ID,
		"markedBy": markedBy,
		"markedAt": markedAt,
	})
}

func (r *Reporter) post(ctx context.Context, path string, body any) error {
	token, err := r.bearer(ctx)
	if err != nil {
		r.logger.Warn("Skipping backend report", zap.String("path", path), zap.Error(err))
		return err
	}

	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		Post(path)
	if err != nil {
		r.logger.Error("Backend report failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("backend %s: %w", path, err)
	}
	if resp.IsError() {
		r.logger.Error("Backend rejected report",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("backend %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func (r *Reporter) bearer(ctx context.Context) (string, error) {
	token, err := r.creds.Get(ctx, r.tokenKey)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	if token == "" {
		return "", ErrNoCredentials
	}
	if tokenExpired(token, r.now()) {
		return "", ErrTokenExpired
	}
	return token, nil
}

// tokenExpired 只检查 JWT 的 exp，不校验签名；非 JWT token 视为可用
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
