package summaries

import (
	"fmt"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

var _ train.Dataset = (*ObservedDataset)(nil)

// Observe returns a dataset that passes ds through unchanged while keeping a
// copy of the most recently yielded input batch, so a training hook can
// record it with Writer.Image. The model graph itself stays free of summary
// side effects: recording happens where the batch is already materialized on
// the host.
func Observe(ds train.Dataset) *ObservedDataset {
	return &ObservedDataset{ds: ds}
}

// ObservedDataset decorates a train.Dataset, retaining a copy of the last
// yielded inputs[0]. See Observe.
type ObservedDataset struct {
	ds train.Dataset

	mu   sync.Mutex
	last *tensors.Tensor
}

// Name implements train.Dataset.
func (ds *ObservedDataset) Name() string {
	return fmt.Sprintf("%s [Observed]", ds.ds.Name())
}

// Reset implements train.Dataset.
func (ds *ObservedDataset) Reset() {
	ds.ds.Reset()
}

// Yield implements train.Dataset. The yielded tensors are exactly the
// source's; the observed copy is private to the decorator, so the training
// loop remains free to finalize what it consumed.
func (ds *ObservedDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.ds.Yield()
	if err != nil || len(inputs) == 0 {
		return
	}
	observed, cloneErr := inputs[0].LocalClone()
	if cloneErr != nil {
		// The batch may already be finalized by a concurrent consumer; skip
		// the observation rather than fail the pipeline.
		return
	}
	ds.mu.Lock()
	if ds.last != nil {
		ds.last.MustFinalizeAll()
	}
	ds.last = observed
	ds.mu.Unlock()
	return
}

// LastBatch returns a copy of the most recently yielded input batch, or nil
// if nothing was yielded yet. The caller owns the returned tensor.
func (ds *ObservedDataset) LastBatch() *tensors.Tensor {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.last == nil {
		return nil
	}
	clone, err := ds.last.LocalClone()
	if err != nil {
		return nil
	}
	return clone
}
