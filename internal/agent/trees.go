package agent

import (
	"encoding/json"
	"path"
	"time"

	"example.com/openrobot-bhv/internal/agent/behavior"
	mqttc "example.com/openrobot-bhv/internal/mqtt"
)

// Blackboard keys shared by the built-in trees.
const (
	KeyIPAddress     = "ip"
	KeyOnline        = "online"
	KeyMQTTConnected = "mqtt_connected"
	KeyPatrolEnabled = "patrol_enabled"
	KeyEStop         = "estop"
)

// Built-in tree names.
const (
	TreeDemo       = "demo"
	TreeHeartbeat  = "heartbeat"
	TreePatrol     = "patrol"
	TreeSelfTest   = "self_test"
	TreeRestartROS = "restart_ros"
	TreeSyncPeer   = "sync_peer"
)

// demoStep is how long each demo leaf waits.
const demoStep = time.Second

// DemoTree exercises every policy of the container and decorator nodes.
// It ends in Failure: the selector's only non-optional children fail.
func DemoTree(step time.Duration) behavior.Child {
	always := func() bool { return true }
	never := func() bool { return false }
	return behavior.NewSequence(
		sleepNamed("FirstChildInSequence", step, behavior.Success),
		Sleep(step),
		behavior.NewDecoratorContinue(never, sleepNamed("SkippedOptional", step, behavior.Failure)),
		behavior.NewDecorator(always, sleepNamed("GatedStep", step, behavior.Success)),
		behavior.NewPrioritySelector(
			sleepNamed("FailingFirstChoice", step, behavior.Failure),
			behavior.NewDecoratorContinue(never, sleepNamed("SkippedChoice", step, behavior.Failure)),
			behavior.NewDecoratorContinue(always, sleepNamed("OptionalChoice", step, behavior.Failure)),
			behavior.NewDecorator(always, sleepNamed("LastChoice", step, behavior.Failure)),
		),
	)
}

// PatrolTree visits waypoints while patrolling is enabled. Disabling patrol
// interrupts the current leg; the tree then reports Success.
func PatrolTree(bb *behavior.Blackboard, dwell time.Duration) behavior.Child {
	enabled := bb.Flag(KeyPatrolEnabled)
	leg := behavior.NewSequence(
		behavior.NewDecorator(enabled, behavior.NewInterruptAction(enabled, Sleep(dwell))),
		Logf("waypoint reached"),
	)
	return behavior.NewInverter(behavior.NewUntilFailure(leg))
}

func (e *AgentEngine) checkNetwork() behavior.Composite {
	return behavior.Action(func() behavior.Status {
		ip := DetectIPv4()
		e.Blackboard.Set(KeyIPAddress, ip)
		e.Blackboard.Set(KeyOnline, ip != "")
		e.Blackboard.Set(KeyMQTTConnected, e.Publisher != nil || e.MQTTClient.Connected())
		return behavior.Success
	})
}

// statusSink publishes through whatever client the engine holds when the
// leaf runs, retaining the message for late subscribers.
type statusSink struct{ e *AgentEngine }

func (s statusSink) Publish(topic string, payload []byte) error {
	if s.e.Publisher != nil {
		return s.e.Publisher.Publish(topic, payload)
	}
	return s.e.MQTTClient.PublishRetained(topic, payload)
}

func (e *AgentEngine) buildCatalog() *Catalog {
	bb := e.Blackboard
	c := NewCatalog()

	c.Register(TreeDemo, DemoTree(demoStep))

	c.Register(TreeHeartbeat, behavior.NewSequence(
		e.checkNetwork(),
		behavior.NewDecoratorContinue(bb.Flag(KeyMQTTConnected),
			Publish(statusSink{e}, mqttc.StatusTopic(e.Config.AgentID), e.buildStatusPayload)),
	))

	c.Register(TreePatrol, PatrolTree(bb, 2*time.Second))

	notStopped := func() bool { return !bb.GetBool(KeyEStop) }
	c.Register(TreeSelfTest, behavior.NewSequence(
		e.checkNetwork(),
		behavior.NewPrioritySelector(
			behavior.NewDecorator(bb.Flag(KeyOnline), Logf("network ok")),
			Logf("no network, continuing offline"),
		),
		behavior.NewInverter(behavior.NewDecorator(bb.Flag(KeyEStop), Logf("emergency stop engaged"))),
		behavior.NewDecoratorContinue(bb.Flag(KeyMQTTConnected),
			Publish(statusSink{e}, mqttc.StatusTopic(e.Config.AgentID), e.buildStatusPayload)),
	))

	restart := RestartCommand()
	c.Register(TreeRestartROS, behavior.NewDecorator(notStopped, behavior.NewSequence(
		Exec(restart[0], restart[1:]...),
		Sleep(2*time.Second),
		Logf("ROS restarted"),
	)))

	if peer := e.Config.Peer; peer != nil {
		host := PeerHost(peer)
		c.Register(TreeSyncPeer, behavior.NewSequence(
			behavior.NewUntilSuccess(RemoteExec(host, "mkdir -p "+peer.Dir)),
			UploadFile(host, path.Join(peer.Dir, e.Config.AgentID+"-last-run.json"), e.lastRunReport),
		))
	}
	return c
}

func (e *AgentEngine) lastRunReport() []byte {
	rec, ok := e.Runs.Last()
	if !ok {
		return []byte("{}")
	}
	buf, _ := json.Marshal(rec)
	return buf
}
