// Package pubsub is a topic-based publish/subscribe delivery skeleton: the
// same durable-accept, deliver, retry pattern as the tracking pipeline, but
// generalized for arbitrary message shapes and secondary channels (a retry
// topic next to a default topic, for example).
//
// Flow: Publish -> Registrar (durable accept) -> Sorter -> Dispatcher ->
// Deliverer -> subscribers. Outcomes flow back through the Registrar, which
// fires a queue-empty notification when the pending count reaches zero.
package pubsub

// Message is one published unit. Attempt counts real delivery attempts; it
// is owned by the deliverer after publish.
type Message struct {
	ID      string
	Topic   string
	Body    map[string]any
	Attempt int
}

// Publisher receives one delivery outcome per published message, success or
// failure, exactly once.
type Publisher interface {
	DeliveryResult(topic, messageID string, delivered bool)
}

// Subscriber consumes delivered messages for one topic. An error from any
// subscriber fails the whole delivery attempt.
type Subscriber interface {
	Consume(msg *Message) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(msg *Message) error

func (f SubscriberFunc) Consume(msg *Message) error { return f(msg) }
