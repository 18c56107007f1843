package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
	"github.com/aiteam/mindbus/registry"
)

func TestInProcessDispatcherUnknownAction(t *testing.T) {
	d := NewInProcessDispatcher()
	_, busErr, err := d.Dispatch(context.Background(), "nonexistent", nil, "t", "s", time.Second)
	require.NoError(t, err)
	require.NotNil(t, busErr)
	assert.Equal(t, core.CodeUnimplemented, busErr.Code)
}

func TestBusDispatcherRoundTrip(t *testing.T) {
	cfg := core.DefaultConfig().Bus
	mb := bus.NewMock(cfg, "orchestrator")
	reg := registry.New(registry.Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)

	worker := core.NodePassport{
		Metadata: core.NodeMetadata{UID: "w1", Name: "worker-1", NodeType: core.NodeTypeAgent},
		Spec:     core.NodeSpec{Capabilities: []core.Capability{{Name: "echo"}}},
		Status:   core.NodeStatus{Phase: core.NodePhaseRunning},
	}
	require.NoError(t, reg.Register(worker))

	ctx := context.Background()
	require.NoError(t, mb.Subscribe(ctx, bus.RoutingKeyCommand(string(core.NodeTypeAgent), "worker-1"), func(ctx context.Context, envelope *core.Envelope) error {
		cmd, err := envelope.DecodeCommand()
		if err != nil {
			return err
		}
		return mb.SendResult(ctx, map[string]interface{}{"echoed": cmd.Params["message"]}, 1, "worker-1", envelope.ReplyTo, envelope.CorrelationID, envelope.Subject, nil)
	}))

	dispatcher := NewBusDispatcher(mb, reg, "orchestrator", "orchestrator.reply", core.CircuitBreakerConfig{})
	require.NoError(t, dispatcher.Start(ctx))

	output, busErr, err := dispatcher.Dispatch(ctx, "echo", map[string]interface{}{"message": "hi"}, "trace-1", "instance-1", 2*time.Second)
	require.NoError(t, err)
	require.Nil(t, busErr)
	assert.Equal(t, "hi", output["echoed"])
}

func TestBusDispatcherNoWorkerAvailable(t *testing.T) {
	cfg := core.DefaultConfig().Bus
	mb := bus.NewMock(cfg, "orchestrator")
	reg := registry.New(registry.Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)

	dispatcher := NewBusDispatcher(mb, reg, "orchestrator", "orchestrator.reply", core.CircuitBreakerConfig{})
	require.NoError(t, dispatcher.Start(context.Background()))

	_, busErr, err := dispatcher.Dispatch(context.Background(), "missing-capability", nil, "t", "s", time.Second)
	require.NoError(t, err)
	require.NotNil(t, busErr)
	assert.Equal(t, core.CodeUnavailable, busErr.Code)
}
