package search

// Result is a single published-confession hit.
type Result struct {
	Number  int64  `json:"number"`
	Snippet string `json:"snippet"`
}

// Query describes a search request over the publication archive.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PublicationRecord is the data we index for a published confession.
type PublicationRecord struct {
	ID     string `json:"id"`
	Number int64  `json:"number"`
	Body   string `json:"body"`
}
