package pubsub

import (
	"errors"
	"sync"
)

// ErrUnroutableTopic means no dispatcher is attached for the message's topic.
var ErrUnroutableTopic = errors.New("no dispatcher for topic")

// Sorter routes accepted messages to the dispatcher owning their topic.
type Sorter struct {
	mu          sync.RWMutex
	dispatchers map[string]*Dispatcher
}

func NewSorter() *Sorter {
	return &Sorter{dispatchers: make(map[string]*Dispatcher)}
}

func (s *Sorter) Attach(topic string, d *Dispatcher) {
	s.mu.Lock()
	s.dispatchers[topic] = d
	s.mu.Unlock()
}

func (s *Sorter) Dispatcher(topic string) *Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatchers[topic]
}

func (s *Sorter) Route(msg *Message) error {
	d := s.Dispatcher(msg.Topic)
	if d == nil {
		return ErrUnroutableTopic
	}
	d.Dispatch(msg)
	return nil
}

// Dispatcher hands a topic's messages to its deliverer.
type Dispatcher struct {
	topic     string
	deliverer *Deliverer
}

func NewDispatcher(topic string, d *Deliverer) *Dispatcher {
	return &Dispatcher{topic: topic, deliverer: d}
}

func (d *Dispatcher) Dispatch(msg *Message) {
	d.deliverer.Enqueue(msg)
}
