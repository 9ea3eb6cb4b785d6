package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LocationTopic 设备定位上报主题
func LocationTopic(deviceID string) string {
	return fmt.Sprintf("sitter/%s/location", deviceID)
}

// HapticTopic 设备震动指令主题
func HapticTopic(deviceID string) string {
	return fmt.Sprintf("sitter/%s/haptic", deviceID)
}

// Publisher 发布接口（*Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// HapticSignal 下发给设备的震动指令
type HapticSignal struct {
	Pattern string `json:"pattern"`
	SentAt  int64  `json:"sent_at"`
}

// DeviceSignaler 通过 MQTT 触发设备震动反馈
type DeviceSignaler struct {
	pub      Publisher
	deviceID string
	qos      byte
}

func NewDeviceSignaler(pub Publisher, deviceID string, qos byte) *DeviceSignaler {
	return &DeviceSignaler{pub: pub, deviceID: deviceID, qos: qos}
}

// Pulse 发送 SOS 震动（best-effort）
func (s *DeviceSignaler) Pulse(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(HapticSignal{Pattern: "sos", SentAt: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return s.pub.Publish(HapticTopic(s.deviceID), s.qos, false, payload)
}
