package response

import "github.com/user/article-capture/internal/entity"

type SubmitURLResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Slug    string `json:"slug"`
}

// HealthResponse reports "ok" only when every dependency answered its ping.
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

type RunImagesResponse struct {
	RunID  string               `json:"run_id"`
	Slug   string               `json:"slug,omitempty"`
	Count  int                  `json:"count"`
	Images []entity.ImageRecord `json:"images"`
}

type ProcessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
