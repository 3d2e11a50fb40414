// Package retrieval holds in-process Retriever implementations. The real
// vector/graph backends live behind the model.Retriever interface; this
// static retriever backs the demo runner and tests.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/convoqa/server/internal/engine/model"
)

const defaultLimit = 5

// StaticRetriever ranks a fixed document set by lexical overlap with the
// query. Deterministic: ties keep insertion order.
type StaticRetriever struct {
	docs  []model.Document
	limit int
}

func NewStatic(docs []model.Document, limit int) *StaticRetriever {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &StaticRetriever{docs: docs, limit: limit}
}

func (r *StaticRetriever) Retrieve(_ context.Context, query string) ([]model.Document, error) {
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		doc   model.Document
		score int
		order int
	}
	ranked := make([]scored, 0, len(r.docs))
	for i, d := range r.docs {
		content := strings.ToLower(d.Content)
		score := 0
		for _, t := range terms {
			if len(t) < 3 {
				continue
			}
			score += strings.Count(content, t)
		}
		if score > 0 {
			ranked = append(ranked, scored{doc: d, score: score, order: i})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	n := len(ranked)
	if n > r.limit {
		n = r.limit
	}
	out := make([]model.Document, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, s.doc)
	}
	return out, nil
}

var _ model.Retriever = (*StaticRetriever)(nil)
