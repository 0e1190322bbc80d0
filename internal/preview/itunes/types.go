package itunes

// lookupResponse is the JSON envelope shared by the iTunes Search API
// /lookup and /search endpoints.
type lookupResponse struct {
	ResultCount int           `json:"resultCount"`
	Results     []trackResult `json:"results"`
}

// trackResult is a single song entry from the iTunes Search API.
type trackResult struct {
	WrapperType    string  `json:"wrapperType"`
	Kind           string  `json:"kind"`
	TrackID        int     `json:"trackId"`
	ArtistName     string  `json:"artistName"`
	CollectionName string  `json:"collectionName"`
	TrackName      string  `json:"trackName"`
	PreviewURL     string  `json:"previewUrl"`
	TrackTimeMs    int     `json:"trackTimeMillis"`
	Country        string  `json:"country"`
	Currency       string  `json:"currency"`
	PrimaryGenre   string  `json:"primaryGenreName"`
	TrackPrice     float64 `json:"trackPrice"`
	IsStreamable   bool    `json:"isStreamable"`
}
