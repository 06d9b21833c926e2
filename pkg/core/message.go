package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the intent of a message envelope.
type MessageType string

const (
	MessageRequest   MessageType = "request"
	MessageResponse  MessageType = "response"
	MessageError     MessageType = "error"
	MessageBroadcast MessageType = "broadcast"
)

// Message is the envelope exchanged between agents. Except for
// system-originated broadcasts, every message is produced in response to
// another and carries its id in InReplyTo.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Content     any
	Type        MessageType
	Timestamp   time.Time
	InReplyTo   string
}

// NewMessage builds a request message with a generated id.
func NewMessage(senderID, recipientID string, content any) Message {
	return Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Type:        MessageRequest,
		Timestamp:   time.Now().UTC(),
	}
}

// NewReply builds a response paired to the request.
func NewReply(req Message, senderID string, content any) Message {
	return Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: req.SenderID,
		Content:     content,
		Type:        MessageResponse,
		Timestamp:   time.Now().UTC(),
		InReplyTo:   req.ID,
	}
}

// NewErrorReply builds an error-typed response paired to the request. Agents
// convert processing failures into these rather than dropping the message.
func NewErrorReply(req Message, senderID string, cause error) Message {
	content := ""
	if cause != nil {
		content = cause.Error()
	}
	return Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: req.SenderID,
		Content:     content,
		Type:        MessageError,
		Timestamp:   time.Now().UTC(),
		InReplyTo:   req.ID,
	}
}

// NewBroadcast builds a system-originated broadcast for one recipient.
// Fan-out is modeled as N individual envelopes, not wire-level multicast.
func NewBroadcast(senderID, recipientID string, content any) Message {
	return Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Type:        MessageBroadcast,
		Timestamp:   time.Now().UTC(),
	}
}
