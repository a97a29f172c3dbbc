package types

// DocumentHit is one result of an unstructured similarity search
type DocumentHit struct {
	SourceName string                 `json:"source_name"`
	Content    string                 `json:"content"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
