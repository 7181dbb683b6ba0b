package locator

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes collar positions and zone events to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	positions     map[string]LivePosition
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. The topic prefix comes from MQTT_PUBLISH_PREFIX,
// then prefix, then "collarmesh".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "collarmesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true, // late subscribers get the latest position
		positions:     make(map[string]LivePosition),
	}
}

// Prefix returns the topic prefix in use
func (p *Publisher) Prefix() string {
	return p.publishPrefix
}

// PublishPosition publishes a collar's position to {prefix}/{collarId} and the
// combined {prefix}/positions topic
func (p *Publisher) PublishPosition(pos LivePosition) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.positions[pos.CollarID] = pos
	p.mu.Unlock()

	if err := p.publishJSON(fmt.Sprintf("%s/%s", p.publishPrefix, pos.CollarID), p.retain, pos); err != nil {
		return err
	}

	if err := p.publishCombined(); err != nil {
		log.Printf("[MQTT] error publishing combined positions: %v", err)
		return err
	}

	return nil
}

func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	positions := make([]LivePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos)
	}
	p.mu.RUnlock()

	sort.Slice(positions, func(i, j int) bool { return positions[i].CollarID < positions[j].CollarID })

	message := map[string]interface{}{
		"collars":     positions,
		"timestampMs": time.Now().UnixMilli(),
	}
	return p.publishJSON(fmt.Sprintf("%s/positions", p.publishPrefix), p.retain, message)
}

// PublishZoneEvent publishes a zone crossing to {prefix}/{collarId}/zone.
// Events are not retained.
func (p *Publisher) PublishZoneEvent(ev ZoneEvent) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	return p.publishJSON(fmt.Sprintf("%s/%s/zone", p.publishPrefix, ev.CollarID), false, ev)
}

func (p *Publisher) publishJSON(topic string, retain bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetPosition returns the last published position for a collar
func (p *Publisher) GetPosition(collarID string) (LivePosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[collarID]
	return pos, ok
}

// ClearPosition removes a collar from the combined topic
func (p *Publisher) ClearPosition(collarID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, collarID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether position messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
