package internal

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type LinkReport struct {
	Context  string `json:"context"`
	Sources  int    `json:"sources"`
	Skipped  int    `json:"skipped"`
	Outliers int    `json:"outliers"`
	Links    int    `json:"links"`
}

// Linker connects blobs that stray from their own document to the nearest
// other document of the same context.
type Linker struct {
	store    KnowledgeStore
	indices  *Registry
	detector OutlierDetector
	workers  int
	logger   *zap.Logger
}

func NewLinker(store KnowledgeStore, indices *Registry, detector OutlierDetector, logger *zap.Logger) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{
		store:    store,
		indices:  indices,
		detector: detector,
		workers:  runtime.GOMAXPROCS(0),
		logger:   logger,
	}
}

type sourceLinks struct {
	links    []*Link
	outliers int
	skipped  bool
}

// Run recomputes every link of the named context and replaces the stored set.
func (l *Linker) Run(ctx context.Context, contextName string) (*LinkReport, error) {
	kc, err := l.store.GetContext(ctx, contextName)
	if err != nil {
		return nil, err
	}

	sources, err := l.store.ListSources(ctx, kc.ID)
	if err != nil {
		return nil, err
	}

	report := &LinkReport{Context: kc.Name, Sources: len(sources)}
	results := make([]sourceLinks, len(sources))

	err = l.indices.WithReader(ctx, kc.SourceIndex(), func(rd *IndexReader) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.workers)

		for i, src := range sources {
			g.Go(func() error {
				res, err := l.linkSource(gctx, rd, src)
				if err != nil {
					return fmt.Errorf("link source %s: %w", src.Name, err)
				}
				results[i] = res
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	var links []*Link
	for _, res := range results {
		links = append(links, res.links...)
		report.Outliers += res.outliers
		if res.skipped {
			report.Skipped++
		}
	}

	if err := l.store.ReplaceLinks(ctx, kc.ID, links); err != nil {
		return nil, err
	}
	report.Links = len(links)

	l.logger.Info("links rebuilt",
		zap.String("context", kc.Name),
		zap.Int("sources", report.Sources),
		zap.Int("outliers", report.Outliers),
		zap.Int("links", report.Links))
	return report, nil
}

func (l *Linker) linkSource(ctx context.Context, rd *IndexReader, src *Source) (sourceLinks, error) {
	var res sourceLinks

	doc, err := rd.Vector(src.ID)
	if errors.Is(err, ErrItemNotFound) {
		l.logger.Debug("source not indexed", zap.String("source", src.Name))
		res.skipped = true
		return res, nil
	}
	if err != nil {
		return res, err
	}

	blobs, err := l.store.ListSourceBlobs(ctx, src.ID)
	if err != nil {
		return res, err
	}
	if len(blobs) == 0 {
		res.skipped = true
		return res, nil
	}

	chunks := make(map[int64][]float32, len(blobs))
	for _, b := range blobs {
		vec, err := DecodeVector(b.VectorHex)
		if err != nil {
			return res, fmt.Errorf("blob %d: %w", b.ID, err)
		}
		chunks[b.ID] = vec
	}

	outliers, err := l.detector.Detect(doc, chunks)
	if err != nil {
		return res, err
	}
	res.outliers = len(outliers)

	origin := make(map[int64]float64, len(outliers))
	for _, o := range outliers {
		origin[o.ItemID] = o.Distance
	}

	for _, b := range blobs {
		dist, ok := origin[b.ID]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		vec := chunks[b.ID]
		neighbors, err := rd.Query(vec, 2)
		if err != nil {
			return res, err
		}

		target, found := nearestOther(neighbors, src.ID)
		if !found {
			continue
		}

		targetVec, err := rd.Vector(target)
		if err != nil {
			return res, err
		}

		res.links = append(res.links, &Link{
			BlobID:              b.ID,
			TargetSourceID:      target,
			OriginDistance:      dist,
			DestinationDistance: CosineDistance(vec, targetVec),
		})
	}

	return res, nil
}

func nearestOther(neighbors []Neighbor, self int64) (int64, bool) {
	for _, n := range neighbors {
		if n.ItemID != self {
			return n.ItemID, true
		}
	}
	return 0, false
}
