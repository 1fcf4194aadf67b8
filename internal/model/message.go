package model

import "time"

// UnsubscribeMethod records how an unsubscribe target was found.
type UnsubscribeMethod string

const (
	UnsubscribeHeader UnsubscribeMethod = "header"
	UnsubscribeLink   UnsubscribeMethod = "link"
	UnsubscribeNone   UnsubscribeMethod = "none"
)

// Message is the canonical normalized email.
type Message struct {
	// ID is the internal unique identifier for this message.
	ID string `json:"id" db:"id"`

	// AccountID is the account the message was ingested from.
	AccountID string `json:"account_id" db:"account_id"`

	// ExternalID is the provider-assigned id. Unique and immutable.
	ExternalID string `json:"external_id" db:"external_id"`

	Subject string `json:"subject" db:"subject"`
	Sender  string `json:"sender" db:"sender"`

	// Body is the preferred body part, capped at MaxBodyBytes.
	Body string `json:"body" db:"body"`

	// Truncated is set when Body was cut to the cap.
	Truncated bool `json:"truncated" db:"truncated"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`

	// UnsubscribeTarget is empty iff UnsubscribeMethod is "none".
	UnsubscribeTarget string            `json:"unsubscribe_target,omitempty" db:"unsubscribe_target"`
	UnsubscribeMethod UnsubscribeMethod `json:"unsubscribe_method" db:"unsubscribe_method"`

	Archived bool `json:"archived" db:"archived"`

	// CategoryID is nil when the message is unclassified.
	CategoryID *string `json:"category_id,omitempty" db:"category_id"`

	// Summary is nil until a summary has been produced.
	Summary *string `json:"summary,omitempty" db:"summary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MaxBodyBytes is the stored body cap.
const MaxBodyBytes = 50 * 1024
