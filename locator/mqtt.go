package locator

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler is called for every scan report received from a collar.
// On decode failure batch is nil and err is set.
type MessageHandler func(collarID string, batch *ObservationBatch, err error)

// MQTTClient manages the broker connection and the collar scan subscriptions
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	messageHandler MessageHandler
	isConnected    bool
	mu             sync.RWMutex
}

// brokerFromEnv returns the broker URL, preferring MQTT_BROKER over the config
func brokerFromEnv(config *Config) string {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}
	return broker
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If no broker is configured MQTT is disabled and this returns nil, nil.
func InitMQTT(config *Config, handler MessageHandler) (*MQTTClient, error) {
	broker := brokerFromEnv(config)
	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Collars) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no collar configuration provided")
	}

	client := &MQTTClient{
		config:         config,
		messageHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "collarmesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	// Scans of one collar must reach the tracker in order
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.OnConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// OnConnect subscribes to every collar topic. InitMQTT installs it as the
// paho connect handler; clients built with NewMQTTClientWithClient hook it up themselves.
func (c *MQTTClient) OnConnect(client mqtt.Client) {
	log.Println("[MQTT] connected, subscribing to collar topics...")
	c.setConnected(true)

	for _, collar := range c.config.Collars {
		if collar.Topic == "" {
			log.Printf("[MQTT] warning: collar %s has no topic configured", collar.ID)
			continue
		}

		token := client.Subscribe(collar.Topic, 0, c.createMessageHandler(collar.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", collar.Topic, token.Error())
		} else {
			log.Printf("[MQTT] subscribed to %s for collar %s", collar.Topic, collar.ID)
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// createMessageHandler creates the handler for one collar's scan topic
func (c *MQTTClient) createMessageHandler(collarID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		batch, err := DecodeObservations(msg.Payload())
		if err != nil {
			log.Printf("[MQTT] error decoding scan from %s (topic %s, %d bytes): %v",
				collarID, msg.Topic(), len(msg.Payload()), err)
		} else if batch.CollarID != "" && batch.CollarID != collarID {
			log.Printf("[MQTT] scan on %s claims collar %s, using %s", msg.Topic(), batch.CollarID, collarID)
		}

		if c.messageHandler != nil {
			c.messageHandler(collarID, batch, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetCollarByTopic returns the collar ID subscribed to the given topic
func (c *MQTTClient) GetCollarByTopic(topic string) (string, bool) {
	for _, collar := range c.config.Collars {
		if collar.Topic == topic {
			return collar.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithClient wraps an existing mqtt.Client, e.g. a MockClient in tests
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler MessageHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		messageHandler: handler,
	}
}
