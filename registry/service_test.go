package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
)

func TestServiceBridgesRegistrationEvent(t *testing.T) {
	mb := bus.NewMock(core.DefaultConfig().Bus, "test-source")
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	svc := NewService(r, mb, nil)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	passport := testPassport("u1", "agent-1", core.NodeTypeAgent, "echo")
	err := mb.SendEvent(ctx, "node", "node.registered", map[string]interface{}{
		"passport": passport,
	}, "worker-runtime", core.SeverityInfo, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := r.FindByCapability("echo")
		return ok
	}, time.Second, 10*time.Millisecond)

	stats := svc.Stats()
	assert.EqualValues(t, 1, stats["registrations"])
}

func TestServiceBridgesHeartbeatAndDeregister(t *testing.T) {
	mb := bus.NewMock(core.DefaultConfig().Bus, "test-source")
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, r.Register(testPassport("u1", "agent-1", core.NodeTypeAgent)))

	svc := NewService(r, mb, nil)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop()

	require.NoError(t, mb.SendEvent(ctx, "node", "node.heartbeat", map[string]interface{}{"uid": "u1"}, "worker-runtime", core.SeverityInfo, nil))
	require.Eventually(t, func() bool {
		return svc.Stats()["heartbeats"].(int64) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, mb.SendEvent(ctx, "node", "node.deregistered", map[string]interface{}{"uid": "u1", "reason": "shutdown"}, "worker-runtime", core.SeverityInfo, nil))
	require.Eventually(t, func() bool {
		_, ok := r.FindByCapability("echo")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
