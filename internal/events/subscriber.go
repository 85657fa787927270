package events

import (
	"encoding/json"
	"fmt"
)

// Message is one event received from the bus. RunID is empty for
// payloads published without a run header.
type Message struct {
	Topic string
	RunID string
	Data  []byte
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	Subscribe(topic string) (*Subscription, error)
	Close() error
}

// Decode unmarshals a message into the payload type of its topic. The
// result is a pointer, e.g. *IngestCompleted.
func Decode(msg Message) (any, error) {
	var v any
	switch msg.Topic {
	case TopicIngestStarted:
		v = &IngestStarted{}
	case TopicIngestCompleted:
		v = &IngestCompleted{}
	case TopicIngestFailed:
		v = &IngestFailed{}
	case TopicGenerationCommitted:
		v = &GenerationCommitted{}
	default:
		return nil, fmt.Errorf("unknown topic %q", msg.Topic)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Topic, err)
	}
	return v, nil
}
