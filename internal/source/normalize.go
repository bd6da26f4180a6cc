package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zrelay/internal/domain"
)

// rawRecord is a superset of the fields seen across the provider's
// response shapes: flat message records, chat records with an embedded
// message list, and chat records with a single lastMessage summary.
type rawRecord struct {
	MessageID string   `json:"messageId"`
	ID        string   `json:"id"`
	Phone     string   `json:"phone"`
	ChatID    string   `json:"chatId"`
	Message   string   `json:"message"`
	Text      *rawText `json:"text"`
	FromMe    bool     `json:"fromMe"`
	IsGroup   bool     `json:"isGroup"`
	Momment   int64    `json:"momment"` // provider misspelling, epoch millis
	Moment    int64    `json:"moment"`

	Messages    []json.RawMessage `json:"messages"`
	LastMessage json.RawMessage   `json:"lastMessage"`
}

type rawText struct {
	Body string `json:"body"`
}

// Normalize converts one provider response body into canonical events.
// The top level must be a JSON array; which of the three record shapes
// each element uses is detected structurally. Individual records that
// cannot be decoded are skipped, never abort the batch.
func Normalize(body []byte, logger *slog.Logger) ([]domain.ChatEvent, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("unrecognized response shape: %w", err)
	}

	var events []domain.ChatEvent
	for _, item := range items {
		events = append(events, normalizeItem(item, logger)...)
	}
	return events, nil
}

// NormalizeAny accepts either a full array response or a single pushed
// record object, as webhook deliveries carry one record at a time.
func NormalizeAny(body []byte, logger *slog.Logger) ([]domain.ChatEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("unrecognized payload shape: invalid JSON")
		}
		return normalizeItem(trimmed, logger), nil
	}
	return Normalize(body, logger)
}

// normalizeItem maps one top-level element to zero or more events,
// detecting which of the three record shapes it uses.
func normalizeItem(item json.RawMessage, logger *slog.Logger) []domain.ChatEvent {
	var rec rawRecord
	if err := json.Unmarshal(item, &rec); err != nil {
		logger.Debug("skipping malformed record", "err", err)
		return nil
	}

	var events []domain.ChatEvent
	switch {
	case len(rec.Messages) > 0:
		// Chat record with embedded message list.
		for _, sub := range rec.Messages {
			var msg rawRecord
			if err := json.Unmarshal(sub, &msg); err != nil {
				logger.Debug("skipping malformed chat message", "err", err)
				continue
			}
			if ev, ok := normalizeOne(msg, rec); ok {
				events = append(events, ev)
			}
		}
	case len(rec.LastMessage) > 0 && string(rec.LastMessage) != "null":
		// Chat record with a single last-message summary.
		var msg rawRecord
		if err := json.Unmarshal(rec.LastMessage, &msg); err != nil {
			logger.Debug("skipping malformed lastMessage", "err", err)
			return nil
		}
		if ev, ok := normalizeOne(msg, rec); ok {
			events = append(events, ev)
		}
	default:
		// Flat message record.
		if ev, ok := normalizeOne(rec, rawRecord{}); ok {
			events = append(events, ev)
		}
	}
	return events
}

// normalizeOne maps a single message record (with its enclosing chat
// record, if any, as fallback for sender fields) to a canonical event.
// Returns false when the record has no usable text.
func normalizeOne(msg rawRecord, chat rawRecord) (domain.ChatEvent, bool) {
	text := strings.TrimSpace(msg.Message)
	if text == "" && msg.Text != nil {
		text = strings.TrimSpace(msg.Text.Body)
	}
	if text == "" {
		return domain.ChatEvent{}, false
	}

	rawSender := firstNonEmpty(msg.Phone, msg.ChatID, chat.Phone, chat.ChatID)
	if rawSender == "" {
		return domain.ChatEvent{}, false
	}

	group := msg.IsGroup || chat.IsGroup || isGroupID(rawSender)
	sender := stripSuffix(rawSender)

	var ts time.Time
	if ms := firstNonZero(msg.Momment, msg.Moment, chat.Momment, chat.Moment); ms > 0 {
		ts = time.UnixMilli(ms)
	}

	providerID := firstNonEmpty(msg.MessageID, msg.ID)

	return domain.ChatEvent{
		EventID:   domain.DeriveEventID(providerID, sender, text, ts),
		Sender:    sender,
		Text:      text,
		FromSelf:  msg.FromMe,
		FromGroup: group,
		Timestamp: ts,
	}, true
}

var senderSuffixes = []string{"@c.us", "@s.whatsapp.net", "@g.us", "-group"}

func stripSuffix(id string) string {
	for _, suffix := range senderSuffixes {
		if strings.HasSuffix(id, suffix) {
			return strings.TrimSuffix(id, suffix)
		}
	}
	return id
}

func isGroupID(id string) bool {
	return strings.HasSuffix(id, "@g.us") || strings.HasSuffix(id, "-group") ||
		strings.Contains(strings.ToLower(id), "group")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
