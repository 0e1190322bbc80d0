package deezer

// searchResponse is the JSON response from the Deezer track search endpoint.
type searchResponse struct {
	Data  []trackResult `json:"data"`
	Total int           `json:"total"`
	Next  string        `json:"next,omitempty"`
}

// trackResult is a single track entry from a Deezer search. Search results
// omit the ISRC; only the track detail endpoint carries it.
type trackResult struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	TitleShort string `json:"title_short"`
	Link       string `json:"link"`
	Duration   int    `json:"duration"`
	Rank       int    `json:"rank"`
	Preview    string `json:"preview"`
	Artist     artist `json:"artist"`
	Album      album  `json:"album"`
	Type       string `json:"type"`
}

// trackDetail is the response from the track detail endpoint, fetched to
// recover the ISRC of the matched recording.
type trackDetail struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	ISRC    string `json:"isrc"`
	Preview string `json:"preview"`
	Artist  artist `json:"artist"`
}

type artist struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type album struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}
