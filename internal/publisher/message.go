// Package publisher holds helpers shared by the message bus publishers.
package publisher

import (
	"encoding/json"
	"fmt"
)

// Keyed payloads name the partition or ordering key of their message.
type Keyed interface {
	MessageKey() string
}

// Attributed payloads contribute message attributes or headers.
type Attributed interface {
	MessageAttributes() map[string]string
}

// Encode marshals payload to JSON and extracts its key and attributes.
func Encode(payload any) (data []byte, key string, attrs map[string]string, err error) {
	data, err = json.Marshal(payload)
	if err != nil {
		return nil, "", nil, fmt.Errorf("marshal payload: %w", err)
	}
	if k, ok := payload.(Keyed); ok {
		key = k.MessageKey()
	}
	attrs = make(map[string]string)
	if a, ok := payload.(Attributed); ok {
		for name, value := range a.MessageAttributes() {
			attrs[name] = value
		}
	}
	return data, key, attrs, nil
}
