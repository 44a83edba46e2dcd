// Package stream is the schema-registry ingestion path: Avro values are
// decoded and pushed through a small linear processing topology.
package stream

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// Message is a decoded record flowing through a topology.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     any
}

// step returns the message to pass on, or false to stop the chain.
type step func(Message) (Message, bool)

// Builder collects stream definitions for a Topology.
type Builder struct {
	streams []*KStream
}

func NewBuilder() *Builder { return &Builder{} }

// Stream starts a new chain reading topic.
func (b *Builder) Stream(topic string) *KStream {
	s := &KStream{topic: topic}
	b.streams = append(b.streams, s)
	return s
}

// Build freezes the builder into a Topology.
func (b *Builder) Build() (*Topology, error) {
	if len(b.streams) == 0 {
		return nil, errors.New("stream: topology has no streams")
	}
	t := &Topology{byTopic: map[string][]*KStream{}}
	for _, s := range b.streams {
		if s.topic == "" {
			return nil, errors.New("stream: stream without topic")
		}
		t.byTopic[s.topic] = append(t.byTopic[s.topic], s)
	}
	return t, nil
}

// KStream is a linear chain of processors on one topic.
type KStream struct {
	topic string
	steps []step
}

func (s *KStream) Filter(pred func(Message) bool) *KStream {
	s.steps = append(s.steps, func(m Message) (Message, bool) { return m, pred(m) })
	return s
}

func (s *KStream) MapValues(fn func(any) any) *KStream {
	s.steps = append(s.steps, func(m Message) (Message, bool) {
		m.Value = fn(m.Value)
		return m, true
	})
	return s
}

func (s *KStream) Foreach(fn func(Message)) *KStream {
	s.steps = append(s.steps, func(m Message) (Message, bool) {
		fn(m)
		return m, true
	})
	return s
}

// Print writes "[label]: key, value" for every message.
func (s *KStream) Print(w io.Writer, label string) *KStream {
	var mu sync.Mutex
	return s.Foreach(func(m Message) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "[%s]: %s, %v\n", label, m.Key, m.Value)
	})
}

// Topology routes messages to the chains registered for their topic.
type Topology struct {
	byTopic map[string][]*KStream
}

func (t *Topology) Topics() []string {
	out := make([]string, 0, len(t.byTopic))
	for topic := range t.byTopic {
		out = append(out, topic)
	}
	slices.Sort(out)
	return out
}

// Process runs m through every chain of its topic and reports how many
// chains ran to completion.
func (t *Topology) Process(m Message) int {
	done := 0
	for _, s := range t.byTopic[m.Topic] {
		cur, ok := m, true
		for _, st := range s.steps {
			if cur, ok = st(cur); !ok {
				break
			}
		}
		if ok {
			done++
		}
	}
	return done
}
