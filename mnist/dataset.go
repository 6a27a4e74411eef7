// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mnist

import (
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// TargetSize is the width and height images are resized to, the input size
// LeNet-5 expects.
const TargetSize = 32

var _ train.Dataset = (*Dataset)(nil)

// Dataset implements train.Dataset, yielding one transformed example at a
// time, in file order: the image as a (1, TargetSize, TargetSize) float32
// tensor with values in [0, 1] (channels-first), and the label as an int32
// scalar tensor.
//
// Use Shuffle, Batch and Repeat to build a training pipeline on top of it.
type Dataset struct {
	name      string
	partition Partition

	images []Image
	labels []Label

	mu   sync.Mutex
	next int
}

// NewDataset reads the given MNIST partition from baseDir -- see Download to
// fetch the files first.
func NewDataset(name, baseDir string, partition Partition) (*Dataset, error) {
	images, labels, err := load(baseDir, partition)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		name:      name,
		partition: partition,
		images:    images,
		labels:    labels,
	}, nil
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// NumExamples loaded in this dataset.
func (ds *Dataset) NumExamples() int { return len(ds.images) }

// Reset implements train.Dataset, restarting from the first example.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
}

// Yield implements train.Dataset. The spec returned is the dataset itself.
//
// It is safe for concurrent calls (e.g., under datasets.Parallel): only the
// cursor is guarded, the transformation itself runs unlocked.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	if ds.next >= len(ds.images) {
		ds.mu.Unlock()
		return nil, nil, nil, io.EOF
	}
	idx := ds.next
	ds.next++
	ds.mu.Unlock()

	return ds,
		[]*tensors.Tensor{ToTensor(ds.images[idx])},
		[]*tensors.Tensor{tensors.FromScalar(int32(ds.labels[idx]))},
		nil
}

// ToTensor applies the image half of the transformation pipeline to any
// image: bilinear resize to TargetSize x TargetSize, gray levels rescaled
// from [0, 255] to [0, 1] as float32, laid out channels-first with a single
// channel, that is, shaped (1, TargetSize, TargetSize).
func ToTensor(img image.Image) *tensors.Tensor {
	resized := imaging.Resize(img, TargetSize, TargetSize, imaging.Linear)
	t := tensors.FromShape(shapes.Make(dtypes.Float32, 1, TargetSize, TargetSize))
	tensors.MustMutableFlatData(t, func(flat []float32) {
		for y := range TargetSize {
			for x := range TargetSize {
				// Gray input, so any of the R, G, B channels works.
				flat[y*TargetSize+x] = float32(resized.NRGBAAt(x, y).R) / 255
			}
		}
	})
	return t
}
