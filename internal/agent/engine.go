package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"example.com/openrobot-bhv/internal/agent/behavior"
	"example.com/openrobot-bhv/internal/db"
	mqttc "example.com/openrobot-bhv/internal/mqtt"
	mqttlib "github.com/eclipse/paho.mqtt.golang"
)

// ErrQueueFull is returned when the command queue cannot take another command.
var ErrQueueFull = errors.New("command queue full")

// RunStore persists finished runs.
type RunStore interface {
	InsertRun(ctx context.Context, r db.Run, events []db.Event) error
}

// Broadcaster fans messages out to live subscribers.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// Message is what the engine broadcasts about runs.
type Message struct {
	Type  string          `json:"type"`
	RunID string          `json:"run_id"`
	Event *behavior.Event `json:"event,omitempty"`
	Run   *RunRecord      `json:"run,omitempty"`
}

const (
	MessageEvent    = "event"
	MessageFinished = "finished"
)

type AgentEngine struct {
	Config     Config
	MQTTClient *mqttc.Client
	// Publisher overrides MQTTClient for status messages when set.
	Publisher  Publisher
	Store      RunStore
	Hub        Broadcaster
	Runs       *RunManager
	Blackboard *behavior.Blackboard
	Catalog    *Catalog

	cmdChan chan Command
}

func NewAgentEngine(cfg Config) *AgentEngine {
	e := &AgentEngine{
		Config:     cfg,
		Runs:       NewRunManager(),
		Blackboard: behavior.NewBlackboard(),
		cmdChan:    make(chan Command, 10),
	}
	e.Runs.OnEvent = e.onEvent
	e.Runs.OnFinish = e.onFinish
	e.Catalog = e.buildCatalog()
	return e
}

// Start connects to the broker and runs the engine loop until ctx is done.
func (e *AgentEngine) Start(ctx context.Context) {
	e.connectMQTT()
	defer e.MQTTClient.Disconnect()
	e.Run(ctx)
}

// Run is the engine loop. Every tree is started, resumed and cancelled from
// here.
func (e *AgentEngine) Run(ctx context.Context) {
	tick := time.NewTicker(e.Config.TickInterval)
	defer tick.Stop()
	heartbeat := time.NewTicker(e.Config.HeartbeatInterval)
	defer heartbeat.Stop()

	log.Printf("[agent] engine started with %d trees", len(e.Catalog.Names()))
	for {
		select {
		case <-ctx.Done():
			if rec, ok := e.Runs.Cancel(); ok {
				log.Printf("[agent] cancelled run %s (%s) on shutdown", rec.ID, rec.Tree)
			}
			return
		case cmd := <-e.cmdChan:
			if err := e.handleCommand(cmd); err != nil {
				log.Printf("[agent] command %s: %v", cmd.Type, err)
			}
		case <-e.Runs.Woken():
			e.Runs.Resume()
		case <-tick.C:
			e.startDefaultTree()
		case <-heartbeat.C:
			e.sendHeartbeat()
		}
	}
}

func (e *AgentEngine) connectMQTT() {
	onConnect := func(c mqttlib.Client) {
		log.Printf("[agent] MQTT connected")
		for _, topic := range []string{mqttc.CommandTopic(e.Config.AgentID), mqttc.BroadcastCommandTopic} {
			if token := c.Subscribe(topic, 0, e.mqttHandler); token.Wait() && token.Error() != nil {
				log.Printf("[agent] subscribe %s: %v", topic, token.Error())
			}
		}
	}
	e.MQTTClient = mqttc.NewClientWithHandler("agent-"+e.Config.AgentID, e.Config.MQTTBroker, onConnect)
}

func (e *AgentEngine) mqttHandler(_ mqttlib.Client, msg mqttlib.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("[agent] invalid command JSON: %v", err)
		return
	}
	if err := e.Enqueue(cmd); err != nil {
		log.Printf("[agent] dropping command %s: %v", cmd.Type, err)
	}
}

// Enqueue hands a command to the engine loop without blocking.
func (e *AgentEngine) Enqueue(cmd Command) error {
	select {
	case e.cmdChan <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (e *AgentEngine) handleCommand(cmd Command) error {
	switch cmd.Type {
	case CommandRunTree:
		var data RunTreeData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode run_tree: %w", err)
		}
		_, err := e.startTree(data.Tree)
		return err
	case CommandStop:
		if rec, ok := e.Runs.Cancel(); ok {
			log.Printf("[agent] stopped run %s (%s)", rec.ID, rec.Tree)
		}
		return nil
	case CommandSetFact:
		var data SetFactData
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return fmt.Errorf("decode set_fact: %w", err)
		}
		if data.Key == "" {
			return errors.New("set_fact requires a key")
		}
		e.Blackboard.Set(data.Key, data.Value)
		e.Runs.Wake()
		return nil
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func (e *AgentEngine) startTree(name string) (string, error) {
	tree, err := e.Catalog.Get(name)
	if err != nil {
		return "", err
	}
	id, err := e.Runs.Start(name, tree)
	if err != nil {
		return "", err
	}
	if e.Config.Verbose {
		log.Printf("[agent] started run %s (%s)", id, name)
	}
	return id, nil
}

func (e *AgentEngine) startDefaultTree() {
	if e.Config.DefaultTree == "" {
		return
	}
	if _, busy := e.Runs.Current(); busy {
		return
	}
	if _, err := e.startTree(e.Config.DefaultTree); err != nil {
		log.Printf("[agent] default tree: %v", err)
	}
}

func (e *AgentEngine) sendHeartbeat() {
	if err := (statusSink{e}).Publish(mqttc.StatusTopic(e.Config.AgentID), e.buildStatusPayload()); err != nil {
		log.Printf("[agent] heartbeat: %v", err)
	}
}

func (e *AgentEngine) buildStatusPayload() []byte {
	type status struct {
		Status    string   `json:"status"`
		TS        string   `json:"ts"`
		IP        string   `json:"ip"`
		Type      string   `json:"type,omitempty"`
		Name      string   `json:"name,omitempty"`
		Trees     []string `json:"trees"`
		RunID     string   `json:"run_id,omitempty"`
		RunTree   string   `json:"run_tree,omitempty"`
		RunStatus string   `json:"run_status,omitempty"`
	}

	s := status{
		Status: "ok",
		TS:     time.Now().Format(time.RFC3339),
		IP:     e.Blackboard.GetString(KeyIPAddress),
		Type:   e.Config.Type,
		Name:   e.Config.AgentID,
		Trees:  e.Catalog.Names(),
	}
	if rec, ok := e.Runs.Current(); ok {
		s.RunID = rec.ID
		s.RunTree = rec.Tree
		s.RunStatus = string(rec.Status)
	} else if rec, ok := e.Runs.Last(); ok {
		s.RunID = rec.ID
		s.RunTree = rec.Tree
		s.RunStatus = string(rec.Status)
	}

	buf, _ := json.Marshal(s)
	return buf
}

func (e *AgentEngine) onEvent(runID string, ev behavior.Event) {
	e.broadcast(Message{Type: MessageEvent, RunID: runID, Event: &ev})
}

func (e *AgentEngine) onFinish(rec RunRecord) {
	log.Printf("[runs] %s (%s) %s after %d resumes", rec.ID, rec.Tree, rec.Status, rec.Resumes)
	if e.Store != nil {
		run, events := e.toStored(rec)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.Store.InsertRun(ctx, run, events); err != nil {
			log.Printf("[runs] store %s: %v", rec.ID, err)
		}
		cancel()
	}
	summary := rec
	summary.Events = nil
	if err := e.MQTTClient.PublishJSON(mqttc.RunTopic(e.Config.AgentID), summary); err != nil {
		log.Printf("[runs] publish %s: %v", rec.ID, err)
	}
	e.broadcast(Message{Type: MessageFinished, RunID: rec.ID, Run: &summary})
}

func (e *AgentEngine) toStored(rec RunRecord) (db.Run, []db.Event) {
	run := db.Run{
		ID:         rec.ID,
		AgentID:    e.Config.AgentID,
		Tree:       rec.Tree,
		Status:     behavior.Failure.String(),
		Cancelled:  rec.Status == RunStatusCancelled,
		Resumes:    rec.Resumes,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if rec.Status == RunStatusSuccess {
		run.Status = behavior.Success.String()
	}
	events := make([]db.Event, 0, len(rec.Events))
	for i, ev := range rec.Events {
		events = append(events, db.Event{
			Seq:   i,
			Kind:  string(ev.Kind),
			Node:  ev.Node,
			Child: ev.Child,
			Index: ev.Index,
			Total: ev.Total,
		})
	}
	return run, events
}

func (e *AgentEngine) broadcast(msg Message) {
	if e.Hub == nil {
		return
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return
	}
	e.Hub.Broadcast(buf)
}

// TreeNames lists the trees this agent can run.
func (e *AgentEngine) TreeNames() []string { return e.Catalog.Names() }

// CurrentRun reports the active run, if any.
func (e *AgentEngine) CurrentRun() (RunRecord, bool) { return e.Runs.Current() }
