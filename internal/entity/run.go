package entity

import "time"

// RunRecord mirrors the `runs` table: one row per processing attempt per URL.
type RunRecord struct {
	RunID    string     `json:"run_id"`
	Slug     string     `json:"slug"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
	OK       *bool      `json:"ok,omitempty"`
	ErrorMsg string     `json:"error_msg,omitempty"`
}

// Active reports whether the run has not been finished yet.
func (r RunRecord) Active() bool {
	return r.Finished == nil
}

// ImageRecord mirrors the `images` table: one row per captured screenshot.
type ImageRecord struct {
	RunID        string    `json:"run_id"`
	Slug         string    `json:"slug"`
	Index        int       `json:"idx"`
	Filename     string    `json:"filename"`
	SectionTitle string    `json:"section_title"`
	Created      time.Time `json:"created"`
}
