package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

var ErrClosed = errors.New("search engine closed")

// Engine 地理检索引擎，只负责“半径内有哪些 ID”，距离与排序由调用方计算
type Engine interface {
	Index(ctx context.Context, doc Doc) error
	IndexBatch(ctx context.Context, docs []Doc) error
	Delete(ctx context.Context, id string) error
	Within(ctx context.Context, lat, lon, radiusKm float64) ([]Hit, error)
	Close() error
}

type bleveEngine struct {
	cfg    Config
	index  bleve.Index
	mu     sync.RWMutex
	closed bool
}

func New(cfg Config, m mapping.IndexMapping) (Engine, error) {
	if m == nil {
		m = BuildGeoMapping()
	}
	if cfg.MaxHits <= 0 {
		cfg.MaxHits = 1000
	}
	be := &bleveEngine{cfg: cfg}

	var idx bleve.Index
	switch {
	case cfg.IndexPath == "":
		i, e := bleve.NewMemOnly(m)
		if e != nil {
			return nil, e
		}
		idx = i
	default:
		if _, err := os.Stat(cfg.IndexPath); err == nil {
			i, e := bleve.Open(cfg.IndexPath)
			if e != nil {
				return nil, e
			}
			idx = i
		} else if os.IsNotExist(err) {
			i, e := bleve.New(cfg.IndexPath, m)
			if e != nil {
				return nil, e
			}
			idx = i
		} else {
			return nil, err
		}
	}
	be.index = idx
	return be, nil
}

func (e *bleveEngine) guard() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *bleveEngine) withDeadline(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	ch := make(chan error, 1)
	go func() { ch <- fn(c) }()
	select {
	case <-c.Done():
		return c.Err()
	case err := <-ch:
		return err
	}
}

func docData(d Doc) map[string]any {
	typ := d.Type
	if typ == "" {
		typ = TypeFacility
	}
	return map[string]any{
		"type":            typ,
		FieldLocation:     map[string]any{"lat": d.Latitude, "lon": d.Longitude},
		FieldCapabilities: d.Capabilities,
	}
}

func (e *bleveEngine) Index(ctx context.Context, doc Doc) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.withDeadline(ctx, e.cfg.QueryTimeout, func(ctx context.Context) error {
		return e.index.Index(doc.ID, docData(doc))
	})
}

func (e *bleveEngine) IndexBatch(ctx context.Context, docs []Doc) error {
	if err := e.guard(); err != nil {
		return err
	}
	bs := e.cfg.BatchSize
	if bs <= 0 {
		bs = 200
	}
	for i := 0; i < len(docs); i += bs {
		end := i + bs
		if end > len(docs) {
			end = len(docs)
		}
		b := e.index.NewBatch()
		for _, d := range docs[i:end] {
			if err := b.Index(d.ID, docData(d)); err != nil {
				return err
			}
		}
		if err := e.index.Batch(b); err != nil {
			return err
		}
	}
	return nil
}

func (e *bleveEngine) Delete(ctx context.Context, id string) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.withDeadline(ctx, e.cfg.QueryTimeout, func(ctx context.Context) error {
		return e.index.Delete(id)
	})
}

// Within 返回以 (lat, lon) 为圆心、radiusKm 为半径范围内的文档
func (e *bleveEngine) Within(ctx context.Context, lat, lon, radiusKm float64) ([]Hit, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	gq := bleve.NewGeoDistanceQuery(lon, lat, fmt.Sprintf("%gkm", radiusKm))
	gq.SetField(FieldLocation)

	// 命中按相关度而非距离排序，必须翻页读完，否则会漏掉近处的文档
	var hits []Hit
	err := e.withDeadline(ctx, e.cfg.QueryTimeout, func(ctx context.Context) error {
		for from := 0; ; {
			sr := bleve.NewSearchRequestOptions(gq, e.cfg.MaxHits, from, false)
			res, err := e.index.SearchInContext(ctx, sr)
			if err != nil {
				return err
			}
			for _, h := range res.Hits {
				hits = append(hits, Hit{ID: h.ID, Score: h.Score})
			}
			from += len(res.Hits)
			if len(res.Hits) == 0 || uint64(from) >= res.Total {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
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
