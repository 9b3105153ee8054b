package models

// Alert is a saved keyword query evaluated against newly published records.
// LastSeenIDs is ordered from the oldest verification pass to the newest.
type Alert struct {
	ID           string   `json:"id"`
	OwnerID      string   `json:"ownerId"`
	Keywords     string   `json:"keywords"`
	SourceFilter Source   `json:"sourceFilter,omitempty"`
	Active       bool     `json:"active"`
	LastSeenIDs  []string `json:"lastSeenIds"`
}

// AlertResult reports the records an alert had not seen before.
type AlertResult struct {
	AlertID      string   `json:"alertId"`
	OwnerID      string   `json:"ownerId"`
	NewRecordIDs []string `json:"newRecordIds"`
	Err          error    `json:"-"`
	Error        string   `json:"error,omitempty"`
}
