package bus

// InboundMessage is a user message arriving from a chat channel.
type InboundMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	// UserID is the companion identity slot the message belongs to.
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a companion reply headed back to a channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}
