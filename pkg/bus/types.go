package bus

// InboundEvent is one message received from the WhatsApp bridge.
// CorrelationID carries the transport message id (id.remote) when the
// bridge exposes one; it stays stable across jid formatting variants.
type InboundEvent struct {
	SenderID      string `json:"sender_id"`
	AuthorID      string `json:"author_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Body          string `json:"body"`
	SenderName    string `json:"sender_name,omitempty"`
}

// OutboundMessage is a send request on its way to the bridge. Tag ties the
// bridge's ack back to the originating send.
type OutboundMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
	Tag  string `json:"tag,omitempty"`
}
