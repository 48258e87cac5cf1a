package search

import (
	"context"
	"strings"

	"ResQFlow/internal/models"
)

// SOSFields are the free-text fields a keyword is matched against.
var SOSFields = []string{"name", "location", "description"}

// NewSOSEngine builds an engine with the SOS mapping.
func NewSOSEngine(cfg Config) (Engine, error) {
	if len(cfg.DefaultSearchFields) == 0 {
		cfg.DefaultSearchFields = SOSFields
	}
	return New(cfg, BuildIndexMapping(cfg.DefaultAnalyzer))
}

// SOSDoc maps a request onto the indexed document. Contact details are not indexed.
func SOSDoc(r *models.SOSRequest) Doc {
	return Doc{
		ID:   r.ID,
		Type: TypeSOS,
		Fields: map[string]any{
			"name":          r.Name,
			"location":      r.Location,
			"description":   r.Description,
			"emergencyType": r.EmergencyType,
			"status":        r.Status,
			"provinceId":    r.ProvinceID,
			"districtId":    r.DistrictID,
			"peopleCount":   float64(r.PeopleCount),
			"createdAt":     r.CreatedAt,
		},
	}
}

// SOSQuery is a keyword search over SOS documents, optionally narrowed by status.
func SOSQuery(keyword, status string, size int) SearchRequest {
	req := SearchRequest{
		Keyword: strings.TrimSpace(keyword),
		Size:    size,
		SortBy:  []string{"-_score", "-createdAt"},
	}
	if status != "" {
		req.MustTerms = map[string][]string{"status": {status}}
	}
	return req
}

// IndexSOS indexes a batch of requests, used for the startup rebuild.
func IndexSOS(ctx context.Context, e Engine, reqs []models.SOSRequest) error {
	docs := make([]Doc, 0, len(reqs))
	for i := range reqs {
		docs = append(docs, SOSDoc(&reqs[i]))
	}
	return e.IndexBatch(ctx, docs)
}
