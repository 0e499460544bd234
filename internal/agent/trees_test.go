package agent

import (
	"context"
	"testing"
	"time"

	"example.com/openrobot-bhv/internal/agent/behavior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitRun(t *testing.T, root behavior.Child, opts ...behavior.RunOption) behavior.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := behavior.NewRun(root, opts...).Wait(ctx)
	require.NoError(t, err)
	return status
}

func TestDemoTree(t *testing.T) {
	t.Parallel()

	var started []string
	status := waitRun(t, DemoTree(time.Millisecond), behavior.WithObserver(func(e behavior.Event) {
		if e.Kind == behavior.EventStart {
			started = append(started, e.Child)
		}
	}))
	// every selector choice fails or is optional, so the demo ends in Failure
	assert.Equal(t, behavior.Failure, status)
	assert.Equal(t, []string{
		"FirstChildInSequence",
		"Sleep",
		"DecoratorContinue",
		"Decorator",
		"GatedStep",
		"PrioritySelector",
		"FailingFirstChoice",
		"DecoratorContinue",
		"DecoratorContinue",
		"OptionalChoice",
		"Decorator",
		"LastChoice",
	}, started)
}

func TestPatrolTree(t *testing.T) {
	t.Parallel()

	t.Run("DisabledFromStart", func(t *testing.T) {
		t.Parallel()
		bb := behavior.NewBlackboard()
		assert.Equal(t, behavior.Success, waitRun(t, PatrolTree(bb, time.Hour)))
	})

	t.Run("StopsWhenDisabled", func(t *testing.T) {
		t.Parallel()
		bb := behavior.NewBlackboard()
		bb.Set(KeyPatrolEnabled, true)
		legs := 0
		status := waitRun(t, PatrolTree(bb, time.Millisecond), behavior.WithObserver(func(e behavior.Event) {
			if e.Node == behavior.UntilFailureName {
				legs++
				if legs == 3 {
					bb.Set(KeyPatrolEnabled, false)
				}
			}
		}))
		assert.Equal(t, behavior.Success, status)
		assert.Equal(t, 3, legs)
	})
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	e := NewAgentEngine(Config{AgentID: "tb3"})
	assert.Equal(t, []string{TreeDemo, TreeHeartbeat, TreePatrol, TreeRestartROS, TreeSelfTest}, e.Catalog.Names())

	_, err := e.Catalog.Get("missing")
	require.ErrorIs(t, err, ErrUnknownTree)

	tree, err := e.Catalog.Get(TreeDemo)
	require.NoError(t, err)
	assert.Equal(t, behavior.SequenceName, tree.Name())

	assert.Panics(t, func() { e.Catalog.Register(TreeDemo, behavior.Succeed()) })
	assert.Panics(t, func() { e.Catalog.Register("", behavior.Succeed()) })

	withPeer := NewAgentEngine(Config{AgentID: "tb3", Peer: &PeerConfig{Addr: "10.0.0.9", User: "ubuntu", Password: "pw", Dir: "/tmp/x"}})
	assert.Contains(t, withPeer.Catalog.Names(), TreeSyncPeer)
}

func TestSelfTestTree(t *testing.T) {
	t.Parallel()

	e := NewAgentEngine(Config{AgentID: "tb3"})
	pub := &recordingPublisher{}
	e.Publisher = pub
	tree, err := e.Catalog.Get(TreeSelfTest)
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, waitRun(t, tree))
	assert.Equal(t, []string{"bhv/status/tb3"}, pub.published())

	e.Blackboard.Set(KeyEStop, true)
	tree, err = e.Catalog.Get(TreeSelfTest)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, waitRun(t, tree))
}

func TestRestartTreeHonoursEStop(t *testing.T) {
	t.Parallel()

	e := NewAgentEngine(Config{AgentID: "tb3"})
	e.Blackboard.Set(KeyEStop, true)
	tree, err := e.Catalog.Get(TreeRestartROS)
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, waitRun(t, tree))
}

func TestSleep(t *testing.T) {
	t.Parallel()

	assert.Equal(t, behavior.Success, waitRun(t, Sleep(time.Millisecond)))

	run := behavior.NewRun(Sleep(time.Hour))
	_, done := run.Resume()
	require.False(t, done)
	run.Abandon()
	status, done := run.Done()
	assert.True(t, done)
	assert.Equal(t, behavior.Failure, status)
}

func TestExec(t *testing.T) {
	t.Parallel()

	assert.Equal(t, behavior.Success, waitRun(t, Exec("true")))
	assert.Equal(t, behavior.Failure, waitRun(t, Exec("false")))
}

func TestPeerHost(t *testing.T) {
	t.Parallel()

	_, err := PeerHost(nil)()
	require.Error(t, err)

	h, err := PeerHost(&PeerConfig{Addr: "10.0.0.9", User: "ubuntu", Password: "pw"})()
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", h.User)

	_, err = PeerHost(&PeerConfig{Addr: "10.0.0.9", User: "ubuntu", KeyPath: "/does/not/exist"})()
	require.Error(t, err)
}
