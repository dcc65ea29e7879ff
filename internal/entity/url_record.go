package entity

import "time"

// URLRecord mirrors the `urls` table.
type URLRecord struct {
	Slug       string    `json:"slug"`
	URL        string    `json:"url"`
	Discovered time.Time `json:"discovered"`
	Status     Status    `json:"status"`
	LastError  string    `json:"last_error,omitempty"`
	RetryCount int       `json:"retry_count"`
	Updated    time.Time `json:"updated"`
}

// URLStatus is a URL record together with its processing history.
type URLStatus struct {
	URLRecord
	Runs []RunRecord `json:"runs"`
}
