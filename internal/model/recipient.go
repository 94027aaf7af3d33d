package model

import "time"

type Recipient struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phoneNumber"`
	Timezone    string    `json:"timezone"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Preferences is the subset of a recipient's stored preference blob that the
// scheduling core reads. PreferredTime is the raw "HH:MM" value, empty when
// the recipient never chose one.
type Preferences struct {
	PreferredTime string `json:"preferred_time,omitempty"`
}

// UserConfig is owned by the user-management collaborator and read-only here.
type UserConfig struct {
	RecipientID int64       `json:"recipientId"`
	Preferences Preferences `json:"preferences"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
