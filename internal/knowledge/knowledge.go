// Package knowledge provides retrieval over external knowledge bases for the
// knowledge node and for grounding llm node completions.
package knowledge

import "context"

// Query is one retrieval request against a knowledge base.
type Query struct {
	KnowledgeBaseID string `json:"knowledge_base_id"`
	CompanyID       string `json:"company_id,omitempty"`
	Text            string `json:"text"`
	TopK            int    `json:"top_k,omitempty"`
}

// Passage is one retrieved chunk with its relevance score.
type Passage struct {
	Content  string         `json:"content"`
	Source   string         `json:"source,omitempty"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Searcher retrieves passages relevant to a query. Implementations must be
// safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Passage, error)
}
