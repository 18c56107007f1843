package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiteam/mindbus/core"
)

func testPassport(uid, name string, nodeType core.NodeType, capabilities ...string) core.NodePassport {
	caps := make([]core.Capability, len(capabilities))
	for i, c := range capabilities {
		caps[i] = core.Capability{Name: c}
	}
	return core.NodePassport{
		Metadata: core.NodeMetadata{UID: uid, Name: name, NodeType: nodeType},
		Spec:     core.NodeSpec{Capabilities: caps},
		Status:   core.NodeStatus{Phase: core.NodePhaseRunning},
	}
}

func TestRegisterAndFind(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)

	require.NoError(t, r.Register(testPassport("u1", "agent-1", core.NodeTypeAgent, "echo")))
	require.NoError(t, r.Register(testPassport("u2", "agent-2", core.NodeTypeAgent, "echo")))

	found, ok := r.FindByCapability("echo")
	require.True(t, ok)
	assert.Equal(t, "u1", found.Metadata.UID) // FIFO: u1 registered first
}

func TestRegisterRejectsDuplicateUID(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, r.Register(testPassport("u1", "agent-1", core.NodeTypeAgent)))
	err := r.Register(testPassport("u1", "agent-1-again", core.NodeTypeAgent))
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, r.Register(testPassport("u1", "agent-1", core.NodeTypeAgent)))
	err := r.Register(testPassport("u2", "agent-1", core.NodeTypeAgent))
	assert.Error(t, err)
}

func TestFindBySelector(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	p1 := testPassport("u1", "agent-1", core.NodeTypeAgent, "echo")
	p1.Metadata.Labels = map[string]string{"region": "us", "tier": "fast"}
	p2 := testPassport("u2", "agent-2", core.NodeTypeAgent, "echo")
	p2.Metadata.Labels = map[string]string{"region": "eu"}

	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))

	found := r.Find(FindOptions{Selector: map[string]string{"region": "us"}, OnlyHealthy: true})
	require.Len(t, found, 1)
	assert.Equal(t, "u1", found[0].Metadata.UID)
}

func TestLabelQueryMonotonicity(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	p := testPassport("u1", "agent-1", core.NodeTypeAgent)
	require.NoError(t, r.Register(p))

	before := r.Find(FindOptions{Selector: map[string]string{"region": "us"}})
	assert.Empty(t, before)

	// adding a matching label elsewhere should never remove existing matches;
	// here we simply verify a fresh passport with the label is found without
	// disturbing unrelated entries.
	p2 := testPassport("u2", "agent-2", core.NodeTypeAgent)
	p2.Metadata.Labels = map[string]string{"region": "us"}
	require.NoError(t, r.Register(p2))

	after := r.Find(FindOptions{Selector: map[string]string{"region": "us"}})
	require.Len(t, after, 1)
}

func TestDeregister(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, r.Register(testPassport("u1", "agent-1", core.NodeTypeAgent)))

	var firedReason string
	r.Watch(EventDeregistered, func(p core.NodePassport, reason string) { firedReason = reason })

	ok := r.Deregister("u1", "shutdown")
	assert.True(t, ok)
	assert.Equal(t, "shutdown", firedReason)

	ok = r.Deregister("u1", "again")
	assert.False(t, ok)
}

func TestHeartbeatUnknownNodeIgnored(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	r.UpdateHeartbeat("nonexistent") // must not panic
}

func TestSweeperEvictsExpiredNode(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 1, TTLSeconds: 1, CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, r.Register(testPassport("u1", "agent-1", core.NodeTypeAgent)))

	var evicted bool
	r.Watch(EventUnhealthy, func(p core.NodePassport, reason string) { evicted = true })

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return evicted }, 5*time.Second, 50*time.Millisecond)

	stats := r.Stats()
	assert.Equal(t, 0, stats["total_nodes"])
}

func TestStats(t *testing.T) {
	r := New(Config{HeartbeatIntervalSeconds: 5, TTLSeconds: 30, CleanupIntervalSeconds: 1}, nil)
	require.NoError(t, r.Register(testPassport("u1", "a1", core.NodeTypeAgent)))
	require.NoError(t, r.Register(testPassport("u2", "a2", core.NodeTypeStorage)))

	stats := r.Stats()
	assert.Equal(t, 2, stats["total_nodes"])
	assert.Equal(t, 2, stats["alive_nodes"])

	byType := stats["nodes_by_type"].(map[string]int)
	assert.Equal(t, 1, byType["agent"])
	assert.Equal(t, 1, byType["storage"])
}
