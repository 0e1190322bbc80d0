package detection

// Algorithm tags reported by the estimation service. The service runs both
// detectors against every excerpt; each reports independently.
const (
	AlgorithmEssentia = "essentia"
	AlgorithmAubio    = "aubio"
)

// KnownAlgorithm reports whether tag names a supported detector.
func KnownAlgorithm(tag string) bool {
	return tag == AlgorithmEssentia || tag == AlgorithmAubio
}

// RawEstimate is one algorithm's output for one excerpt, as returned by the
// estimation service. Tempo is the raw detected value; octave correction
// happens in the normalizer, not here.
type RawEstimate struct {
	Algorithm       string  `json:"algorithm"`
	TempoRaw        float64 `json:"tempo_raw"`
	TempoConfidence float64 `json:"tempo_confidence"`
	Key             string  `json:"key,omitempty"`
	Scale           string  `json:"scale,omitempty"`
	KeyConfidence   float64 `json:"key_confidence,omitempty"`
}

// analyzeRequest is the body for a single-excerpt analysis call.
type analyzeRequest struct {
	PreviewURL string `json:"preview_url"`
}

// analyzeResponse is the service's reply to a single-excerpt analysis call.
type analyzeResponse struct {
	Results []RawEstimate `json:"results"`
}

// batchRequest is the body for a batch submission.
type batchRequest struct {
	URLs []string `json:"urls"`
}

// batchCreated is the service's reply to a batch submission.
type batchCreated struct {
	ID string `json:"id"`
}

// BatchResult is one completed excerpt within a batch. The stream endpoint
// emits one of these per line; the status endpoint lists all completed so far.
type BatchResult struct {
	PreviewURL string        `json:"preview_url"`
	Estimates  []RawEstimate `json:"results,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// BatchInfo is the polled state of a batch, the fallback for consumers whose
// result stream was interrupted.
type BatchInfo struct {
	ID        string        `json:"id"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Done      bool          `json:"done"`
	Results   []BatchResult `json:"completed_results,omitempty"`
}
