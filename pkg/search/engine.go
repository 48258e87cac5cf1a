package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

var ErrClosed = errors.New("search engine closed")

type Engine interface {
	Index(ctx context.Context, doc Doc) error
	IndexBatch(ctx context.Context, docs []Doc) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, req SearchRequest) (SearchResult, error)
	Close() error
}

// bleveEngine serializes Close against in-flight calls; bleve itself is safe for concurrent use.
type bleveEngine struct {
	cfg   Config
	index bleve.Index

	mu     sync.RWMutex
	closed bool
}

// New opens the index at cfg.IndexPath, creating it with m when absent. An empty path builds
// an in-memory index.
func New(cfg Config, m mapping.IndexMapping) (Engine, error) {
	idx, err := openIndex(cfg.IndexPath, m)
	if err != nil {
		return nil, fmt.Errorf("open index %q: %w", cfg.IndexPath, err)
	}
	return &bleveEngine{cfg: cfg, index: idx}, nil
}

func openIndex(path string, m mapping.IndexMapping) (bleve.Index, error) {
	if path == "" {
		return bleve.NewMemOnly(m)
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return bleve.Open(path)
	case os.IsNotExist(err):
		return bleve.New(path, m)
	default:
		return nil, err
	}
}

// acquire holds the read lock for the duration of a call; release with the returned func.
func (e *bleveEngine) acquire() (func(), error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	return e.mu.RUnlock, nil
}

func docData(d Doc) map[string]any {
	data := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		data[k] = v
	}
	if d.Type != "" {
		data["type"] = d.Type
	}
	return data
}

func (e *bleveEngine) Index(ctx context.Context, doc Doc) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.index.Index(doc.ID, docData(doc))
}

// IndexBatch writes docs in chunks of cfg.BatchSize, checking ctx between chunks.
func (e *bleveEngine) IndexBatch(ctx context.Context, docs []Doc) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()

	size := e.cfg.BatchSize
	if size <= 0 {
		size = 200
	}
	for len(docs) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(size, len(docs))
		b := e.index.NewBatch()
		for _, d := range docs[:n] {
			if err := b.Index(d.ID, docData(d)); err != nil {
				return err
			}
		}
		if err := e.index.Batch(b); err != nil {
			return err
		}
		docs = docs[n:]
	}
	return nil
}

func (e *bleveEngine) Delete(ctx context.Context, id string) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.index.Delete(id)
}

func (e *bleveEngine) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	release, err := e.acquire()
	if err != nil {
		return SearchResult{}, err
	}
	defer release()

	sr := bleve.NewSearchRequestOptions(buildQuery(req, e.cfg.DefaultSearchFields),
		max(req.Size, 0), max(req.From, 0), false)
	if req.Size <= 0 {
		sr.Size = 10
	}
	if len(req.SortBy) > 0 {
		sr.SortBy(req.SortBy)
	}
	sr.Fields = req.IncludeFields
	if len(sr.Fields) == 0 {
		sr.Fields = []string{"*"}
	}

	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}
	res, err := e.index.SearchInContext(ctx, sr)
	if err != nil {
		return SearchResult{}, err
	}

	out := SearchResult{Total: res.Total, Took: res.Took, Hits: make([]Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Fields: h.Fields})
	}
	return out, nil
}

func (e *bleveEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.index.Close()
}
