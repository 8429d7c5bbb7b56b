package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// Message types.
const (
	SendCoin        = "SEND_COIN"        // point-to-point: Coin
	PostTransaction = "POST_TRANSACTION" // broadcast: Transaction
	ProofFound      = "PROOF_FOUND"      // broadcast, or reply to MISSING_BLOCK: Block
	MissingBlock    = "MISSING_BLOCK"    // broadcast: MissingBlockPayload
	StartMining     = "START_MINING"     // sent to self to resume the proof-of-work search
	Ping            = "ping"
	Pong            = "pong"
)

// Message is the generic envelope for any message sent over the network.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// MissingBlockPayload asks peers for a block this participant cannot connect.
type MissingBlockPayload struct {
	From    string          `json:"from"`
	Missing zerocash.Digest `json:"missing"`
}

// NewMessage encodes payload into an envelope.
func NewMessage(messageType, senderID string, payload any) (Message, error) {
	msg := Message{Type: messageType, SenderID: senderID}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal %s payload: %w", messageType, err)
	}
	msg.Payload = data
	return msg, nil
}

// Handler processes a message delivered to a participant.
type Handler func(msg Message)

// Transport delivers messages between named participants.
// Implementations must hand every receiver its own copy of the payload bytes.
type Transport interface {
	ID() string
	// Send delivers msg to a single participant. Sending to ID() loops back locally.
	Send(to string, msg Message) error
	// Broadcast delivers msg to every other known participant.
	Broadcast(msg Message) error
	RegisterHandler(messageType string, h Handler)
}
