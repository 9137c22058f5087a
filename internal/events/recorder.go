package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Message is one publication captured by a Recorder.
type Message struct {
	Subject string
	Payload []byte
}

// Decode unmarshals the envelope of a captured message.
func (m Message) Decode() (Envelope, json.RawMessage, error) {
	var raw struct {
		Envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(m.Payload, &raw); err != nil {
		return Envelope{}, nil, err
	}
	return raw.Envelope, raw.Data, nil
}

// Recorder is an in-process Publisher that keeps everything it is given.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *Recorder) Publish(_ context.Context, subject string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, Message{Subject: subject, Payload: append([]byte(nil), payload...)})
	return nil
}

// FailWith makes every later Publish return err. Pass nil to recover.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Events returns the captured messages carrying the named event, in order.
func (r *Recorder) Events(name string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		env, _, err := m.Decode()
		if err == nil && env.Event == name {
			out = append(out, m)
		}
	}
	return out
}
