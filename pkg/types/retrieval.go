package types

// MatchSource records which of the two memory stores produced a match.
type MatchSource string

const (
	SourceTemporal MatchSource = "temporal"
	SourceSemantic MatchSource = "semantic"
)

// RetrievalMatch is one retrieval result scored against the current query.
// Matches live for a single request; they are assembled into a ChatContext
// and discarded once the response is produced.
type RetrievalMatch struct {
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float64        `json:"similarity"`
	Source     MatchSource    `json:"source"`
}

// ChatContext is the hybrid context bundle handed to response generation:
// the recent dialogue window, the relevance-filtered temporal matches, and
// at most one distilled semantic context block (empty when nothing survived
// recency reconciliation).
type ChatContext struct {
	RecentTurns     []ConversationTurn `json:"recent_turns"`
	TemporalMatches []RetrievalMatch   `json:"temporal_matches"`
	SemanticContext string             `json:"semantic_context,omitempty"`
}
