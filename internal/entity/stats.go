package entity

// Stats summarises the job store.
type Stats struct {
	ByStatus    map[Status]int `json:"by_status"`
	TotalURLs   int            `json:"total_urls"`
	TotalRuns   int            `json:"total_runs"`
	TotalImages int            `json:"total_images"`
}

// Count returns the number of URLs in status s.
func (s Stats) Count(st Status) int {
	return s.ByStatus[st]
}

// BatchResult is returned by batch processing and retry workflows.
type BatchResult struct {
	RunID      string `json:"run_id"`
	Processed  int    `json:"processed"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
}
