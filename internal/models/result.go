package models

// SearchResult is a single document hit.
type SearchResult struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
	Snippet  string    `json:"snippet,omitempty"`
	Rank     int       `json:"rank"`
}

// SearchResponse is the response for a document search.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Page      int             `json:"page"`
	Limit     int             `json:"limit"`
	QueryTime int64           `json:"queryTimeMs"`
	Query     string          `json:"query"`
	// AutoFuzzy is set when the exact search found nothing and a fuzzy retry was used.
	AutoFuzzy bool `json:"autoFuzzy,omitempty"`
}
