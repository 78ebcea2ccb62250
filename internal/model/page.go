package model

// Page is the readable content of one fetched URL.
type Page struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Markdown   string `json:"markdown"`
	StatusCode int    `json:"statusCode"`
}
