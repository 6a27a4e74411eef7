// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mnist

import (
	"fmt"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// element buffers one Yield result in the pipeline decorators.
type element struct {
	spec           any
	inputs, labels []*tensors.Tensor
}

// finalizeAll immediately frees the tensors of a buffered element that won't
// be delivered.
func (e *element) finalizeAll() {
	for _, t := range e.inputs {
		t.MustFinalizeAll()
	}
	for _, t := range e.labels {
		t.MustFinalizeAll()
	}
}

// Shuffle returns a dataset that yields the examples of ds in pseudo-random
// order, using a bounded shuffle buffer: the buffer is kept filled with up to
// bufferSize examples and each Yield picks one of them uniformly. This is
// weaker than a global shuffle -- an example can only move at most bufferSize
// positions forward -- but uses constant memory.
//
// Reset restarts ds and refills the buffer, so every epoch is shuffled anew.
// The returned dataset owns rng, only using it under its lock: don't share it
// with other concurrent users.
func Shuffle(ds train.Dataset, bufferSize int, rng *rand.Rand) train.Dataset {
	if bufferSize < 1 {
		return ds
	}
	return &shuffleDataset{
		ds:         ds,
		bufferSize: bufferSize,
		rng:        rng,
	}
}

type shuffleDataset struct {
	ds         train.Dataset
	bufferSize int

	mu           sync.Mutex
	rng          *rand.Rand
	buffer       []element
	srcExhausted bool
}

// Name implements train.Dataset.
func (ds *shuffleDataset) Name() string {
	return fmt.Sprintf("%s [Shuffle]", ds.ds.Name())
}

// Reset implements train.Dataset. Buffered but undelivered examples are
// discarded, and the source is restarted.
func (ds *shuffleDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, e := range ds.buffer {
		e.finalizeAll()
	}
	ds.buffer = ds.buffer[:0]
	ds.srcExhausted = false
	ds.ds.Reset()
}

// Yield implements train.Dataset.
func (ds *shuffleDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	// Top up the buffer from the source.
	for !ds.srcExhausted && len(ds.buffer) < ds.bufferSize {
		eSpec, eInputs, eLabels, yieldErr := ds.ds.Yield()
		if yieldErr == io.EOF {
			ds.srcExhausted = true
			break
		}
		if yieldErr != nil {
			return nil, nil, nil, yieldErr
		}
		ds.buffer = append(ds.buffer, element{spec: eSpec, inputs: eInputs, labels: eLabels})
	}
	if len(ds.buffer) == 0 {
		return nil, nil, nil, io.EOF
	}

	idx := ds.rng.Intn(len(ds.buffer))
	e := ds.buffer[idx]
	ds.buffer[idx] = ds.buffer[len(ds.buffer)-1]
	ds.buffer = ds.buffer[:len(ds.buffer)-1]
	return e.spec, e.inputs, e.labels, nil
}

// Batch returns a dataset that collects batchSize consecutive examples of ds
// and yields them concatenated along a new leading batch axis: examples
// shaped (dims...) become batches shaped (batchSize, dims...).
//
// With dropIncomplete, trailing examples that don't fill a whole batch are
// discarded at the end of an epoch, so every batch has exactly batchSize
// examples (desirable for training: the graph is compiled for one shape).
// Otherwise the last batch of an epoch may be smaller.
//
// The batching is done on the host, so no backend is involved; the source
// example tensors are freed once copied into the batch.
func Batch(ds train.Dataset, batchSize int, dropIncomplete bool) train.Dataset {
	return &batchDataset{
		ds:             ds,
		batchSize:      batchSize,
		dropIncomplete: dropIncomplete,
	}
}

type batchDataset struct {
	ds             train.Dataset
	batchSize      int
	dropIncomplete bool

	mu     sync.Mutex
	buffer []element
}

// Name implements train.Dataset.
func (ds *batchDataset) Name() string {
	return fmt.Sprintf("%s [Batch]", ds.ds.Name())
}

// Reset implements train.Dataset.
func (ds *batchDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.lockedFreeBuffer()
	ds.ds.Reset()
}

// lockedFreeBuffer finalizes all buffered example tensors. It must be called
// with ds.mu locked.
func (ds *batchDataset) lockedFreeBuffer() {
	for _, e := range ds.buffer {
		e.finalizeAll()
	}
	ds.buffer = ds.buffer[:0]
}

// Yield implements train.Dataset.
func (ds *batchDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for len(ds.buffer) < ds.batchSize {
		eSpec, eInputs, eLabels, yieldErr := ds.ds.Yield()
		if yieldErr == io.EOF {
			if ds.dropIncomplete || len(ds.buffer) == 0 {
				ds.lockedFreeBuffer()
				return nil, nil, nil, io.EOF
			}
			// Deliver the trailing partial batch.
			break
		}
		if yieldErr != nil {
			return nil, nil, nil, yieldErr
		}
		ds.buffer = append(ds.buffer, element{spec: eSpec, inputs: eInputs, labels: eLabels})
	}

	batched, err := ds.lockedBatchBuffer()
	ds.lockedFreeBuffer()
	if err != nil {
		return nil, nil, nil, err
	}
	return batched.spec, batched.inputs, batched.labels, nil
}

// lockedBatchBuffer concatenates the buffered examples into one batch
// element. It must be called with ds.mu locked.
func (ds *batchDataset) lockedBatchBuffer() (batched element, err error) {
	first := ds.buffer[0]
	batched.spec = first.spec
	batched.inputs, err = ds.lockedBatchTensorsList(func(e element) []*tensors.Tensor { return e.inputs })
	if err != nil {
		return
	}
	batched.labels, err = ds.lockedBatchTensorsList(func(e element) []*tensors.Tensor { return e.labels })
	return
}

// lockedBatchTensorsList batches either the inputs or the labels (chosen by
// selectFn) of every buffered example.
func (ds *batchDataset) lockedBatchTensorsList(selectFn func(e element) []*tensors.Tensor) ([]*tensors.Tensor, error) {
	numTensors := len(selectFn(ds.buffer[0]))
	batchedTensors := make([]*tensors.Tensor, 0, numTensors)
	parts := make([]*tensors.Tensor, len(ds.buffer))
	for tensorIdx := range numTensors {
		for ii, e := range ds.buffer {
			selected := selectFn(e)
			if len(selected) != numTensors {
				return nil, errors.Errorf(
					"examples to batch don't all have the same number of tensors: seen one Yield() return "+
						"%d tensors and another %d", numTensors, len(selected))
			}
			parts[ii] = selected[tensorIdx]
		}
		batchedTensor, err := concatLeadingAxis(parts)
		if err != nil {
			return nil, err
		}
		batchedTensors = append(batchedTensors, batchedTensor)
	}
	return batchedTensors, nil
}

// concatLeadingAxis copies the given same-shaped tensors into a new tensor
// with an extra leading axis of dimension len(parts).
func concatLeadingAxis(parts []*tensors.Tensor) (*tensors.Tensor, error) {
	shape := parts[0].Shape()
	for ii := 1; ii < len(parts); ii++ {
		if !parts[ii].Shape().Equal(shape) {
			return nil, errors.Errorf("examples to batch have varying shapes (seen %s and %s)",
				shape, parts[ii].Shape())
		}
	}
	dims := append([]int{len(parts)}, shape.Dimensions...)
	batched := tensors.FromShape(shapes.Make(shape.DType, dims...))
	var copyErr error
	err := batched.MutableBytes(func(dst []byte) {
		exampleBytes := len(dst) / len(parts)
		for ii, part := range parts {
			copyErr = part.ConstBytes(func(src []byte) {
				copy(dst[ii*exampleBytes:(ii+1)*exampleBytes], src)
			})
			if copyErr != nil {
				break
			}
		}
	})
	if err == nil {
		err = copyErr
	}
	if err != nil {
		batched.MustFinalizeAll()
		return nil, err
	}
	return batched, nil
}

// Repeat returns a dataset that runs through ds count times before reporting
// the end of an epoch: downstream sees one epoch with count times the
// examples. For count <= 1 it returns ds unchanged.
func Repeat(ds train.Dataset, count int) train.Dataset {
	if count <= 1 {
		return ds
	}
	return &repeatDataset{ds: ds, count: count, remaining: count}
}

type repeatDataset struct {
	ds    train.Dataset
	count int

	mu        sync.Mutex
	remaining int
}

// Name implements train.Dataset.
func (ds *repeatDataset) Name() string {
	return fmt.Sprintf("%s [Repeat %d]", ds.ds.Name(), ds.count)
}

// Reset implements train.Dataset.
func (ds *repeatDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.remaining = ds.count
	ds.ds.Reset()
}

// Yield implements train.Dataset.
func (ds *repeatDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for {
		spec, inputs, labels, err = ds.ds.Yield()
		if err != io.EOF {
			return
		}
		if ds.remaining > 0 {
			ds.remaining--
		}
		if ds.remaining == 0 {
			return nil, nil, nil, io.EOF
		}
		ds.ds.Reset()
	}
}
