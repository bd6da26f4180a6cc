package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ChatEvent is the canonical, provider-agnostic representation of one
// inbound chat message. Immutable once constructed.
type ChatEvent struct {
	EventID   string
	Sender    string
	Text      string
	FromSelf  bool
	FromGroup bool
	Timestamp time.Time
}

// Ack is an optional acknowledgement reply sent back to the message
// originator after a confirmed dispatch.
type Ack struct {
	Recipient string
	Text      string
}

// DeriveEventID returns a stable deduplication id for a message.
// A provider-supplied message id wins; otherwise the id is a hash of
// sender, text and the minute bucket of the send time, so two
// normalizations of the same underlying message agree.
func DeriveEventID(providerID, sender, text string, ts time.Time) string {
	if providerID != "" {
		return providerID
	}
	bucket := ""
	if !ts.IsZero() {
		bucket = ts.UTC().Truncate(time.Minute).Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(sender + "|" + text + "|" + bucket))
	return hex.EncodeToString(sum[:])
}
