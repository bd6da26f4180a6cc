package domain

// MessageBus decouples the push receiver from the relay pipeline and
// carries acknowledgement replies back to the provider client.
type MessageBus interface {
	Publish(ev ChatEvent)
	Subscribe() <-chan ChatEvent
	SendAck(ack Ack)
	OnAck(handler func(Ack))
	Close()
}
