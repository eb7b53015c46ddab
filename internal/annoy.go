package internal

import (
	"fmt"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"
)

// annoyEngine wraps one goannoy instance. An engine is either being filled
// and built by a writer, or loaded from disk and only queried. Engine ids are
// dense positions 0..n-1; goannoy allocates storage up to the largest id.
type annoyEngine struct {
	idx       interfaces.AnnoyIndex[float32, uint32]
	dimension int
}

func newAnnoyEngine(dimension int) *annoyEngine {
	idx := builder.Index[float32, uint32]().
		AngularDistance(dimension).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()

	return &annoyEngine{idx: idx, dimension: dimension}
}

func loadAnnoyEngine(path string, dimension int) (*annoyEngine, error) {
	e := newAnnoyEngine(dimension)
	if err := e.idx.Load(path); err != nil {
		e.close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	return e, nil
}

func (e *annoyEngine) add(id uint32, vec []float32) {
	e.idx.AddItem(id, vec)
}

func (e *annoyEngine) build(trees int) {
	e.idx.Build(trees, -1)
}

func (e *annoyEngine) save(path string) error {
	if err := e.idx.Save(path); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	return nil
}

// nearest returns up to k engine ids in ascending distance order, inspecting
// about searchK nodes across all trees.
func (e *annoyEngine) nearest(vec []float32, k, searchK int) ([]uint32, []float32) {
	searchCtx := e.idx.CreateContext()
	return e.idx.GetNnsByVector(vec, k, searchK, searchCtx)
}

func (e *annoyEngine) close() {
	switch c := any(e.idx).(type) {
	case interface{ Close() error }:
		_ = c.Close()
	case interface{ Unload() }:
		c.Unload()
	}
}
