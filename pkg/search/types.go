package search

import "time"

type Config struct {
	// IndexPath empty keeps the index in memory.
	IndexPath           string
	DefaultAnalyzer     string
	DefaultSearchFields []string
	QueryTimeout        time.Duration
	BatchSize           int
}

type Doc struct {
	ID     string
	Type   string
	Fields map[string]any
}

type TimeRangeFilter struct {
	Field string
	From  *time.Time
	To    *time.Time
}

type SearchRequest struct {
	Keyword      string
	SearchFields []string

	// 结构化 Term
	MustTerms    map[string][]string
	MustNotTerms map[string][]string

	TimeRanges []TimeRangeFilter

	// 排序与分页
	SortBy []string
	From   int
	Size   int

	IncludeFields []string
}

type Hit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

type SearchResult struct {
	Total uint64
	Took  time.Duration
	Hits  []Hit
}

// IDs returns hit ids in rank order.
func (r SearchResult) IDs() []string {
	ids := make([]string, 0, len(r.Hits))
	for _, h := range r.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}
