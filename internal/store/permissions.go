package store

import (
	"context"
	"errors"
	"strings"
)

const permissionPrefix = "location:permission:"

// 定位权限
const (
	PermissionForeground = "foreground"
	PermissionBackground = "background"
)

// PermissionStore 设备定位授权记录
// 值为逗号分隔列表，如 "foreground,background"
type PermissionStore struct {
	kv KV
}

func NewPermissionStore(kv KV) *PermissionStore { return &PermissionStore{kv: kv} }

// Granted 设备是否已授予指定权限
func (s *PermissionStore) Granted(ctx context.Context, deviceID, permission string) (bool, error) {
	raw, err := s.kv.Get(ctx, permissionPrefix+deviceID)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, p := range strings.Split(raw, ",") {
		if strings.TrimSpace(p) == permission {
			return true, nil
		}
	}
	return false, nil
}

// Grant 写入授权列表
func (s *PermissionStore) Grant(ctx context.Context, deviceID string, permissions ...string) error {
	return s.kv.Set(ctx, permissionPrefix+deviceID, strings.Join(permissions, ","), 0)
}
