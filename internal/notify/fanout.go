package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sitter-safety/internal/models"
)

// Fanout 向所有联系人并发发送通知
// 每个接收方、每个通道独立失败，不影响其他发送
type Fanout struct {
	gateway Gateway
	limit   int
	logger  *zap.Logger
}

// NewFanout limit 为并发上限
func NewFanout(gateway Gateway, limit int, logger *zap.Logger) *Fanout {
	if limit <= 0 {
		limit = 8
	}
	return &Fanout{gateway: gateway, limit: limit, logger: logger}
}

// NotifyContacts 有 push token 发推送，有手机号发短信
func (f *Fanout) NotifyContacts(ctx context.Context, contacts []models.EmergencyContact, n models.Notification) models.DeliveryReport {
	var (
		mu     sync.Mutex
		report models.DeliveryReport
		errs   error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Attempted++
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, err)
			return
		}
		report.Delivered++
	}

	var g errgroup.Group
	g.SetLimit(f.limit)
	for _, c := range contacts {
		c := c
		if c.PushToken == "" && c.Phone == "" {
			f.logger.Warn("Contact has no reachable channel", zap.String("contact_id", c.ID))
			continue
		}
		if c.PushToken != "" {
			g.Go(func() error {
				if err := f.gateway.SendPush(ctx, c.PushToken, n.Title, n.Body, n.Data); err != nil {
					record(fmt.Errorf("push to %s: %w", c.ID, err))
					return nil
				}
				record(nil)
				return nil
			})
		}
		if c.Phone != "" {
			g.Go(func() error {
				if err := f.gateway.SendSMS(ctx, c.Phone, n.SMS); err != nil {
					record(fmt.Errorf("sms to %s: %w", c.ID, err))
					return nil
				}
				record(nil)
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, err := range multierr.Errors(errs) {
		report.Failures = append(report.Failures, err.Error())
	}
	if errs != nil {
		f.logger.Warn("Notification fan-out partially failed",
			zap.String("class", n.Class),
			zap.Int("attempted", report.Attempted),
			zap.Int("failed", report.Failed),
			zap.Error(errs),
		)
	} else {
		f.logger.Info("Notification fan-out complete",
			zap.String("class", n.Class),
			zap.Int("delivered", report.Delivered),
		)
	}
	return report
}
