package mqttc

import (
	"encoding/json"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	topicPrefix = "bhv"
	// BroadcastCommandTopic reaches every agent.
	BroadcastCommandTopic = topicPrefix + "/commands/all"
	publishTimeout        = 5 * time.Second
)

// CommandTopic is where an agent receives its own commands.
func CommandTopic(agentID string) string { return topicPrefix + "/commands/" + agentID }

// StatusTopic carries an agent's retained heartbeat.
func StatusTopic(agentID string) string { return topicPrefix + "/status/" + agentID }

// RunTopic carries finished run reports.
func RunTopic(agentID string) string { return topicPrefix + "/runs/" + agentID }

type Client struct {
	Client mqtt.Client
}

// NewClient creates a client using environment/default broker.
func NewClient(clientID string) *Client {
	return NewClientWithBroker(clientID, "")
}

// NewClientWithBroker lets callers override the MQTT broker address.
func NewClientWithBroker(clientID, broker string) *Client {
	return NewClientWithHandler(clientID, broker, nil)
}

// NewClientWithHandler lets callers provide an OnConnect handler.
func NewClientWithHandler(clientID, broker string, onConnect mqtt.OnConnectHandler) *Client {
	if broker == "" {
		broker = os.Getenv("MQTT_BROKER")
		if broker == "" {
			broker = "tcp://127.0.0.1:1883"
		}
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("MQTT connect error: %v", token.Error())
	}
	return &Client{Client: c}
}

// Connected reports whether the underlying client currently has a session.
func (c *Client) Connected() bool {
	return c != nil && c.Client != nil && c.Client.IsConnected()
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained publishes a message the broker keeps for late subscribers.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

// PublishJSON marshals v and publishes it.
func (c *Client) PublishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Publish(topic, payload)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if c == nil || c.Client == nil {
		return nil
	}
	token := c.Client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Printf("MQTT publish to %s timed out", topic)
		return nil
	}
	return token.Error()
}

func (c *Client) Subscribe(topic string, handler mqtt.MessageHandler) {
	if c == nil || c.Client == nil {
		return
	}
	token := c.Client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		log.Printf("MQTT subscribe error: %v", token.Error())
	}
}

func (c *Client) Disconnect() {
	if c == nil || c.Client == nil {
		return
	}
	c.Client.Disconnect(250)
}
