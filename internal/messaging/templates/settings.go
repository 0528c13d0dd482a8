package templates

import "github.com/creatus-team/v3/internal/messaging"

// Settings is the per-recipient send toggle snapshot. It is loaded once per
// pipeline run and passed down.
type Settings struct {
	Student bool `json:"STUDENT"`
	Coach   bool `json:"COACH"`
	Admin   bool `json:"ADMIN"`
}

// DefaultSettings sends to the admin only.
func DefaultSettings() Settings {
	return Settings{Admin: true}
}

// Enabled reports whether sends to r are switched on.
func (s Settings) Enabled(r messaging.Recipient) bool {
	switch r {
	case messaging.RecipientStudent:
		return s.Student
	case messaging.RecipientCoach:
		return s.Coach
	case messaging.RecipientAdmin:
		return s.Admin
	default:
		return false
	}
}
