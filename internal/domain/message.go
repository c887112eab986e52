package domain

// MessageStatus mirrors the upstream delivery states persisted with each
// message row.
type MessageStatus string

const (
	StatusPending     MessageStatus = "PENDING"
	StatusServerAck   MessageStatus = "SERVER_ACK"
	StatusDeliveryAck MessageStatus = "DELIVERY_ACK"
	StatusRead        MessageStatus = "READ"
	StatusPlayed      MessageStatus = "PLAYED"
)

// MessageRef is the query key into the message store. The store persists it
// as a nested document inside the row, which is why lookups go through the
// dialect adapter instead of flat column predicates.
type MessageRef struct {
	InstanceScope string     `json:"instance"`
	ChatID        Identifier `json:"chatId"`
	MessageID     string     `json:"id"`
	FromMe        bool       `json:"fromMe"`
	Timestamp     int64      `json:"timestamp"`
}

// Message is a persisted message row as returned by the adapter.
type Message struct {
	Ref     MessageRef
	Status  MessageStatus
	Payload map[string]any
}
