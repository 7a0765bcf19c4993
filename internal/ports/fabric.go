package ports

// OutboundMessage is a fully-encoded message ready to publish: the
// coordinator builds the payload, the fabric adapter owns topic syntax
// and QoS.
type OutboundMessage struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// MessageFabric is the C6 publish side the coordinator depends on.
// Subscriptions flow the other direction (fabric -> coordinator event
// channel) and so are wired at startup, not through this interface.
type MessageFabric interface {
	Publish(msg OutboundMessage) error
	Close() error
}
