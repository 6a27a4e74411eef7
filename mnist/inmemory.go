package mnist

import (
	"fmt"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/schollz/progressbar/v3"
)

// InMemory loads a whole MNIST partition, already transformed, into a single
// pair of tensors -- images (numExamples, 1, TargetSize, TargetSize) float32
// and labels (numExamples) int32 -- and returns them wrapped in an
// InMemoryDataset.
//
// This trades memory (~250MB for the train partition) for fast sampling, and
// is what the evaluation paths use. Configure batching and shuffling on the
// returned dataset, e.g.:
//
//	evalDS := must.M1(mnist.InMemory(backend, dataDir, mnist.Test, false)).BatchSize(128, false)
//
// With verbose set a progress bar tracks the conversion.
func InMemory(backend backends.Backend, baseDir string, partition Partition, verbose bool) (*datasets.InMemoryDataset, error) {
	images, labels, err := load(baseDir, partition)
	if err != nil {
		return nil, err
	}

	var pBar *progressbar.ProgressBar
	maxFrequencyPBar := 250 * time.Millisecond
	nextPBarUpdate := time.Now()
	addToPBar := 0
	if verbose {
		pBar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription(fmt.Sprintf("Converting MNIST %s", partition)),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}

	const exampleSize = TargetSize * TargetSize
	imagesT := tensors.FromShape(shapes.Make(dtypes.Float32, len(images), 1, TargetSize, TargetSize))
	tensors.MustMutableFlatData(imagesT, func(flat []float32) {
		for ii := range images {
			example := ToTensor(images[ii])
			tensors.MustConstFlatData(example, func(exampleFlat []float32) {
				copy(flat[ii*exampleSize:(ii+1)*exampleSize], exampleFlat)
			})
			example.MustFinalizeAll()
			if verbose {
				addToPBar++
				if now := time.Now(); now.After(nextPBarUpdate) {
					_ = pBar.Add(addToPBar)
					addToPBar = 0
					nextPBarUpdate = now.Add(maxFrequencyPBar)
				}
			}
		}
	})
	if verbose {
		if addToPBar > 0 {
			_ = pBar.Add(addToPBar)
		}
		_ = pBar.Close()
		fmt.Println()
	}

	labelValues := make([]int32, len(labels))
	for ii, label := range labels {
		labelValues[ii] = int32(label)
	}
	labelsT := tensors.FromFlatDataAndDimensions(labelValues, len(labelValues))

	return datasets.InMemoryFromData(backend, partition.String(), []any{imagesT}, []any{labelsT})
}
