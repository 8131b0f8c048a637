package domain

import (
	"fmt"
	"time"
)

// RawMessage is what MailboxAgent hands to IngestionPipeline straight off the
// IMAP FETCH stream. It is discarded once ingestion finishes; it never
// crosses the wire itself (SourceBytes is excluded from JSON for that
// reason), but carries the same field tags as StoredMessage for consistency.
type RawMessage struct {
	UID         uint64    `json:"uid"`
	Subject     string    `json:"subject"`
	From        string    `json:"from"`
	To          []string  `json:"to"`
	Date        time.Time `json:"date"`
	SourceBytes []byte    `json:"-"`
}

// StoredMessage is the durable record the EmailIndex owns. ID is the
// exactly-once dedupe key: "{userId}|{email}|{uid}". Field tags match
// spec.md §6's literal wire shape.
type StoredMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Folder    string    `json:"folder"`
	UID       uint64    `json:"uid"`
	Subject   string    `json:"subject"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"isRead"`
	IsStarred bool      `json:"isStarred"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageID derives the exactly-once identity for a (userId, email, uid)
// triple. Used by both IngestionPipeline and EmailIndex implementations so
// the key is computed in exactly one place.
func MessageID(key AccountKey, uid uint64) string {
	return fmt.Sprintf("%s|%s|%d", key.UserID, key.Email, uid)
}

// MessagePatch restricts EmailIndex.Update to the three mutable fields the
// spec allows the core to change locally.
type MessagePatch struct {
	IsRead    *bool
	IsStarred *bool
	Category  *Category
}
