// Package events defines the economy's outbound event stream.
package events

import (
	"sync"
	"time"
)

// Topic names resolved through config.KafkaConfig.Topic.
const (
	TopicGiftEvents    = "gift_events"
	TopicAnnouncements = "announcements"
	TopicBagEvents     = "bag_events"
	TopicPurchases     = "purchases"
)

type Envelope struct {
	Type      string      `json:"type"`
	RoomID    string      `json:"room_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEnvelope(eventType, roomID string, payload interface{}) Envelope {
	return Envelope{Type: eventType, RoomID: roomID, Payload: payload, Timestamp: time.Now()}
}

// Message is one event captured by Recorder.
type Message struct {
	Topic string
	Key   string
	Value interface{}
}

// Recorder is an in-process Publisher that keeps everything it receives.
// The memory store driver uses it in place of Kafka.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(topic, key string, value interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Value: value})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Messages returns a copy of the recorded events, optionally filtered by topic.
func (r *Recorder) Messages(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
