package mqtt

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	topic   string
	qos     byte
	payload []byte
}

func (p *recordingPublisher) Publish(topic string, qos byte, _ bool, payload []byte) error {
	p.topic, p.qos, p.payload = topic, qos, payload
	return nil
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "sitter/dev-1/location", LocationTopic("dev-1"))
	assert.Equal(t, "sitter/dev-1/haptic", HapticTopic("dev-1"))
}

func TestDeviceSignaler_Pulse(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewDeviceSignaler(pub, "dev-1", 1)

	require.NoError(t, s.Pulse(context.Background()))
	assert.Equal(t, "sitter/dev-1/haptic", pub.topic)
	assert.Equal(t, byte(1), pub.qos)

	var sig HapticSignal
	require.NoError(t, json.Unmarshal(pub.payload, &sig))
	assert.Equal(t, "sos", sig.Pattern)
}

func TestDeviceSignaler_PulseCanceled(t *testing.T) {
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewDeviceSignaler(pub, "d", 0).Pulse(ctx))
	assert.Empty(t, pub.topic)
}
