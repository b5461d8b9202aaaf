package linkverify

import "time"

// BrokenLinkEvent represents a broken link discovered during verification.
// Published to NATS for downstream processing (e.g. opening forge issues).
type BrokenLinkEvent struct {
	URL        string `json:"url"`         // The broken link URL as written in the page
	Status     int    `json:"status"`      // HTTP status code (0 for non-HTTP errors)
	Error      string `json:"error"`       // Error message
	IsInternal bool   `json:"is_internal"` // True if link is internal to the site

	Page   string `json:"page"`             // Page path relative to the output root
	Anchor string `json:"anchor,omitempty"` // Missing fragment, when the target page exists

	Timestamp     time.Time `json:"timestamp"`
	LastChecked   time.Time `json:"last_checked,omitzero"`
	FailureCount  int       `json:"failure_count,omitempty"`
	FirstFailedAt time.Time `json:"first_failed_at,omitzero"`
}
