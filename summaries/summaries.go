// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package summaries records training summaries -- scalar time series and
// input-image snapshots -- to a summary directory, and reads them back.
//
// A summary directory holds one run: starting a new Writer on the same
// directory replaces the previous run. The layout is
//
//	<dir>/manifest.json   the run: uuid, start time, backend, hyperparameters
//	<dir>/scalars.json    one JSON object per line, in flush order
//	<dir>/images/         one PNG grid per recorded image summary
//
// Scalar records accumulate in memory and only reach disk on Flush (or
// Close), so a crash loses at most the records since the last flush --
// matching the usual record-every-step, flush-every-N-steps training setup.
package summaries

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ManifestFilename is the name of the run manifest file in a summary
	// directory.
	ManifestFilename = "manifest.json"

	// ScalarsFilename is the name of the scalar records file in a summary
	// directory.
	ScalarsFilename = "scalars.json"

	// ImagesDirName is the name of the subdirectory holding image summaries.
	ImagesDirName = "images"

	// MaxImagesPerSummary is how many images of a batch are laid out in the
	// PNG grid of an image summary.
	MaxImagesPerSummary = 16
)

// Scalar is one scalar summary record: the value of a named series at a
// global step.
type Scalar struct {
	Tag   string  `json:"tag"`
	Step  int     `json:"step"`
	Value float64 `json:"value"`
}

// Manifest describes one training run.
type Manifest struct {
	ID      string         `json:"id"`
	Started time.Time      `json:"started"`
	Backend string         `json:"backend"`
	Params  map[string]any `json:"params,omitempty"`
}

// Writer records summaries for one training run.
//
// Scalars are handed off to a background goroutine and buffered there;
// Flush synchronizes with it and appends the buffer to the scalars file.
// Images are written immediately. The writer is not meant to outlive the
// training: Close it (idempotent) on every exit path.
type Writer struct {
	dir      string
	manifest Manifest

	scalarsChan chan Scalar
	flushChan   chan chan error
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error

	// Owned by the background goroutine:
	scalarsPath string
	f           *os.File
	enc         *json.Encoder
	pending     []Scalar
}

// NewWriter creates dir (and its images subdirectory) if needed and starts a
// summaries writer for a new run: a fresh run id is generated and the
// manifest written immediately. Any previous run in dir is replaced.
func NewWriter(dir, backendName string, params map[string]any) (*Writer, error) {
	dir = fsutil.MustReplaceTildeInDir(dir)
	if err := os.MkdirAll(path.Join(dir, ImagesDirName), 0777); err != nil {
		return nil, errors.Wrapf(err, "failed to create summary directory %q", dir)
	}
	w := &Writer{
		dir: dir,
		manifest: Manifest{
			ID:      uuid.NewString(),
			Started: time.Now(),
			Backend: backendName,
			Params:  params,
		},
		scalarsChan: make(chan Scalar, 100),
		flushChan:   make(chan chan error),
		done:        make(chan struct{}),
		scalarsPath: path.Join(dir, ScalarsFilename),
	}

	encoded, err := json.MarshalIndent(w.manifest, "", "\t")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode run manifest")
	}
	manifestPath := path.Join(dir, ManifestFilename)
	if err = os.WriteFile(manifestPath, encoded, 0664); err != nil {
		return nil, errors.Wrapf(err, "failed to write run manifest %q", manifestPath)
	}

	w.f, err = os.OpenFile(w.scalarsPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create scalars file %q", w.scalarsPath)
	}
	w.enc = json.NewEncoder(w.f)
	go w.run()
	klog.V(1).Infof("summaries: run %s recording to %s", w.manifest.ID, dir)
	return w, nil
}

// Dir of this run's summaries.
func (w *Writer) Dir() string { return w.dir }

// Manifest of this run. The ID is freshly generated per run.
func (w *Writer) Manifest() Manifest { return w.manifest }

// Scalar records one value of the series tag at the given global step. The
// record stays in memory until the next Flush.
func (w *Writer) Scalar(tag string, step int, value float64) {
	w.scalarsChan <- Scalar{Tag: tag, Step: step, Value: value}
}

// Flush appends all scalar records accumulated so far to the scalars file
// and syncs it.
func (w *Writer) Flush() error {
	ack := make(chan error)
	select {
	case w.flushChan <- ack:
		return <-ack
	case <-w.done:
		return errors.New("summaries.Writer is already closed")
	}
}

// Close flushes any remaining records and closes the scalars file. It is
// idempotent, and the writer must not be used afterward.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.scalarsChan)
		<-w.done
	})
	return w.closeErr
}

// run is the background goroutine: it buffers incoming scalars and serves
// flush requests, so Scalar stays cheap on the training path.
func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case s, ok := <-w.scalarsChan:
			if !ok {
				w.closeErr = w.flushPending()
				if err := w.f.Close(); err != nil && w.closeErr == nil {
					w.closeErr = errors.Wrapf(err, "failed to close %q", w.scalarsPath)
				}
				return
			}
			w.pending = append(w.pending, s)
		case ack := <-w.flushChan:
			// Records sent before the flush may still sit in the channel.
			for drained := false; !drained; {
				select {
				case s, ok := <-w.scalarsChan:
					if !ok {
						drained = true
						break
					}
					w.pending = append(w.pending, s)
				default:
					drained = true
				}
			}
			ack <- w.flushPending()
		}
	}
}

func (w *Writer) flushPending() error {
	if len(w.pending) == 0 {
		return nil
	}
	var err error
	for _, s := range w.pending {
		if err = w.enc.Encode(s); err != nil {
			err = errors.Wrapf(err, "failed to append scalar record to %q", w.scalarsPath)
			break
		}
	}
	w.pending = w.pending[:0]
	if err != nil {
		return err
	}
	if err = w.f.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync %q", w.scalarsPath)
	}
	return nil
}

// Image records a grid with the first MaxImagesPerSummary images of a batch
// as <dir>/images/<tag>-<step>.png. The batch must be shaped
// (batchSize, 1, height, width), float32, gray values in [0, 1] -- the
// layout the mnist pipeline yields. Unlike scalars, images are written
// immediately.
func (w *Writer) Image(tag string, step int, batch *tensors.Tensor) error {
	shape := batch.Shape()
	if shape.Rank() != 4 || shape.Dimensions[1] != 1 || shape.DType != dtypes.Float32 {
		return errors.Errorf("summaries.Image expects a (batchSize, 1, height, width) float32 batch, got %s", shape)
	}
	numImages := min(shape.Dimensions[0], MaxImagesPerSummary)
	height, width := shape.Dimensions[2], shape.Dimensions[3]
	cols := min(numImages, 4)
	rows := (numImages + cols - 1) / cols

	grid := image.NewGray(image.Rect(0, 0, cols*width, rows*height))
	err := tensors.ConstFlatData(batch, func(flat []float32) {
		for imgIdx := range numImages {
			imgFlat := flat[imgIdx*height*width:]
			x0 := (imgIdx % cols) * width
			y0 := (imgIdx / cols) * height
			for y := range height {
				for x := range width {
					v := imgFlat[y*width+x]
					if v < 0 {
						v = 0
					} else if v > 1 {
						v = 1
					}
					grid.SetGray(x0+x, y0+y, color.Gray{Y: uint8(v*255 + 0.5)})
				}
			}
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to read image batch for summary %q", tag)
	}
	filePath := path.Join(w.dir, ImagesDirName, fmt.Sprintf("%s-%06d.png", tag, step))
	if err = imaging.Save(grid, filePath); err != nil {
		return errors.Wrapf(err, "failed to save image summary %q", filePath)
	}
	return nil
}
