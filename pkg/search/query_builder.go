package search

import (
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	q "github.com/blevesearch/bleve/v2/search/query"
)

func buildQuery(req SearchRequest, defaultFields []string) q.Query {
	var must, mustNot []q.Query

	if kw := strings.TrimSpace(req.Keyword); kw != "" {
		fields := req.SearchFields
		if len(fields) == 0 {
			fields = defaultFields
		}
		if len(fields) == 0 {
			must = append(must, bleve.NewMatchQuery(kw))
		} else {
			// 按字段 OR
			ors := make([]q.Query, 0, len(fields))
			for _, f := range fields {
				mq := bleve.NewMatchQuery(kw)
				mq.SetField(f)
				ors = append(ors, mq)
			}
			must = append(must, bleve.NewDisjunctionQuery(ors...))
		}
	}

	for f, vs := range req.MustTerms {
		if len(vs) == 0 {
			continue
		}
		qs := make([]q.Query, 0, len(vs))
		for _, v := range vs {
			tq := bleve.NewTermQuery(v)
			tq.SetField(f)
			qs = append(qs, tq)
		}
		if len(qs) == 1 {
			must = append(must, qs[0])
		} else {
			must = append(must, bleve.NewDisjunctionQuery(qs...))
		}
	}
	for f, vs := range req.MustNotTerms {
		for _, v := range vs {
			tq := bleve.NewTermQuery(v)
			tq.SetField(f)
			mustNot = append(mustNot, tq)
		}
	}

	for _, tr := range req.TimeRanges {
		if tr.From == nil && tr.To == nil {
			continue
		}
		var from, to time.Time // zero is open-ended
		if tr.From != nil {
			from = *tr.From
		}
		if tr.To != nil {
			to = *tr.To
		}
		dq := bleve.NewDateRangeQuery(from, to)
		dq.SetField(tr.Field)
		must = append(must, dq)
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return bleve.NewMatchAllQuery()
	}
	bq := bleve.NewBooleanQuery()
	if len(must) > 0 {
		bq.AddMust(must...)
	} else {
		bq.AddMust(bleve.NewMatchAllQuery())
	}
	if len(mustNot) > 0 {
		bq.AddMustNot(mustNot...)
	}
	return bq
}

