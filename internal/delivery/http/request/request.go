package request

type SubmitURLRequest struct {
	URL string `json:"url"`
}
