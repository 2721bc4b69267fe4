package amqp

import (
	"encoding/json"
	"time"
)

// Change actions carried on the ledger-changed channel.
const (
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionSettle = "settle"
)

// LedgerChangedMessage announces that a user changed the transaction set.
// Consumers re-run the fetch+aggregate cycle; the message deliberately
// carries no transaction data, since aggregation always rebuilds from the
// full set anyway.
type LedgerChangedMessage struct {
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerChangedMessage(userID, action string, count int) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		UserID:    userID,
		Action:    action,
		Count:     count,
		Timestamp: time.Now(),
	}
}

func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
