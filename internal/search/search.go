package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultWave ResultType = "wave"
	ResultBlip ResultType = "blip"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	WaveID  string     `json:"waveId"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterDomainID string
	Limit          int
	Offset         int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexWave(w WaveRecord) error
	IndexBlip(b BlipRecord) error
	DeleteWave(id string) error
	DeleteBlip(id string) error
}

// WaveRecord is the data we index for a wave.
type WaveRecord struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags"`
	DomainID string   `json:"domainId"`
	Type     string   `json:"type"`
	Folder   string   `json:"folder"`
}

// BlipRecord is the data we index for a blip.
type BlipRecord struct {
	ID       string `json:"id"`
	WaveID   string `json:"waveId"`
	Content  string `json:"content"`
	AuthorID string `json:"authorId"`
}
