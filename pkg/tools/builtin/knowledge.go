package builtin

import (
	"context"
	"fmt"

	"github.com/harun/zombiecoder/pkg/retrieval"
	"github.com/harun/zombiecoder/pkg/tools"
)

// Retriever is the part of the retrieval pipeline the knowledge tool needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// NewKnowledgeSearch returns a tool that searches the indexed knowledge base.
func NewKnowledgeSearch(r Retriever) tools.Tool {
	return &tools.Func{
		Name: "knowledge_search",
		Desc: "Search the indexed knowledge base for relevant passages.",
		Params: []tools.Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum passages to return", Default: 5},
		},
		Caps: []tools.Capability{tools.CapabilityKnowledge},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query := stringArg(args, "query")
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			k := 5
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				k = int(v)
			}

			results, err := r.Retrieve(ctx, query, k)
			if err != nil {
				return nil, err
			}

			passages := make([]map[string]interface{}, 0, len(results))
			for _, res := range results {
				passages = append(passages, map[string]interface{}{
					"source":  res.Source,
					"content": res.Content,
					"score":   res.Score,
				})
			}
			return map[string]interface{}{
				"query":   query,
				"results": passages,
			}, nil
		},
	}
}
