package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Entity names carried in LedgerChangedMessage.
const (
	EntityCard      = "card"
	EntityStatement = "statement"
	EntityPayment   = "payment"
)

// Operations carried in LedgerChangedMessage.
const (
	OpSaved    = "saved"
	OpDeleted  = "deleted"
	OpRelinked = "relinked"
)

// LedgerChangedMessage tells consumers that a user's ledger moved to a new
// version. It carries identifiers only; consumers reload the snapshot.
type LedgerChangedMessage struct {
	UserID    string    `json:"user_id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Operation string    `json:"operation"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerChangedMessage(userID, entity, entityID, op string, version int64) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		UserID:    userID,
		Entity:    entity,
		EntityID:  entityID,
		Operation: op,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedMessageFromJSON decodes a message and rejects ones without a
// user.
func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, errors.New("ledger changed message without user_id")
	}
	return &msg, nil
}
