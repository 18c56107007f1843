package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiteam/mindbus/bus"
	"github.com/aiteam/mindbus/core"
)

func TestRuntimeAnnouncesOnStart(t *testing.T) {
	cfg := core.DefaultConfig().Bus
	mb := bus.NewMock(cfg, "test")

	var gotRegistered bool
	require.NoError(t, mb.Subscribe(context.Background(), "evt.node.#", func(ctx context.Context, envelope *core.Envelope) error {
		ev, err := envelope.DecodeEvent()
		if err != nil {
			return err
		}
		if ev.EventType == "node.registered" {
			gotRegistered = true
		}
		return nil
	}))

	rt := New(Config{Name: "echo-worker", NodeType: core.NodeTypeAgent, HeartbeatIntervalSeconds: 60}, mb, nil)
	rt.RegisterCapability("echo", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return params, nil
	})

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	assert.True(t, gotRegistered)
}

func TestRuntimeServesRegisteredCapability(t *testing.T) {
	cfg := core.DefaultConfig().Bus
	mb := bus.NewMock(cfg, "test")

	rt := New(Config{Name: "echo-worker", NodeType: core.NodeTypeAgent, HeartbeatIntervalSeconds: 60}, mb, nil)
	rt.RegisterCapability("echo", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"echoed": params["message"]}, nil
	})

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	replyCh := make(chan *core.Envelope, 1)
	require.NoError(t, mb.SubscribeQueue(ctx, "reply-queue", func(ctx context.Context, envelope *core.Envelope) error {
		replyCh <- envelope
		return nil
	}))

	_, err := mb.SendCommand(ctx, "echo", map[string]interface{}{"message": "hi"}, string(core.NodeTypeAgent), "echo-worker", "caller", "subj", "trace", nil, "reply-queue")
	require.NoError(t, err)

	select {
	case reply := <-replyCh:
		assert.Equal(t, core.MessageResult, reply.Type)
		result, err := reply.DecodeResult()
		require.NoError(t, err)
		assert.Equal(t, "hi", result.Output["echoed"])
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestRuntimeUnsupportedCapabilityReturnsError(t *testing.T) {
	cfg := core.DefaultConfig().Bus
	mb := bus.NewMock(cfg, "test")
	rt := New(Config{Name: "worker-1", NodeType: core.NodeTypeAgent, HeartbeatIntervalSeconds: 60}, mb, nil)

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	replyCh := make(chan *core.Envelope, 1)
	require.NoError(t, mb.SubscribeQueue(ctx, "reply-queue", func(ctx context.Context, envelope *core.Envelope) error {
		replyCh <- envelope
		return nil
	}))

	_, err := mb.SendCommand(ctx, "nonexistent", nil, string(core.NodeTypeAgent), "worker-1", "caller", "subj", "trace", nil, "reply-queue")
	require.NoError(t, err)

	select {
	case reply := <-replyCh:
		assert.Equal(t, core.MessageError, reply.Type)
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestManifestReflectsRegisteredCapabilities(t *testing.T) {
	rt := New(Config{Name: "w", NodeType: core.NodeTypeAgent}, bus.NewMock(core.DefaultConfig().Bus, "test"), nil)
	rt.RegisterCapability("a", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) { return nil, nil })
	rt.RegisterCapability("b", func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) { return nil, nil })

	names := make(map[string]bool)
	for _, c := range rt.Manifest() {
		names[c.Name] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])
}
