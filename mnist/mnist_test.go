package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"image"
	"io"
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTestExamples builds n synthetic digits: image i has a pixel pattern
// derived from i, and label i modulo NumClasses.
func makeTestExamples(n int) (images []Image, labels []Label) {
	images = make([]Image, n)
	labels = make([]Label, n)
	for ii := range images {
		for p := range images[ii] {
			images[ii][p] = byte((ii + p) % 256)
		}
		labels[ii] = Label(ii % NumClasses)
	}
	return
}

// writeIdxFile writes one gzip-compressed idx file with the given header
// fields followed by data.
func writeIdxFile(t *testing.T, filePath string, header, data any) {
	f, err := os.Create(filePath)
	require.NoError(t, err)
	w := gzip.NewWriter(f)
	require.NoError(t, binary.Write(w, binary.BigEndian, header))
	require.NoError(t, binary.Write(w, binary.BigEndian, data))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

// writeTestPartition writes a synthetic MNIST partition under baseDir, in the
// same idx.gz format as the real distribution.
func writeTestPartition(t *testing.T, baseDir string, partition Partition, images []Image, labels []Label) {
	imagesFilename, labelsFilename := partition.filenames()
	writeIdxFile(t, path.Join(baseDir, imagesFilename),
		imagesHeader{Magic: imageMagic, NumImages: int32(len(images)), Height: Height, Width: Width},
		images)
	writeIdxFile(t, path.Join(baseDir, labelsFilename),
		labelsHeader{Magic: labelMagic, NumLabels: int32(len(labels))},
		labels)
}

func TestLoad(t *testing.T) {
	baseDir := t.TempDir()
	wantImages, wantLabels := makeTestExamples(23)
	writeTestPartition(t, baseDir, Train, wantImages, wantLabels)

	images, labels, err := load(baseDir, Train)
	require.NoError(t, err)
	require.Len(t, images, 23)
	require.Len(t, labels, 23)
	assert.Equal(t, wantImages[7], images[7])
	assert.Equal(t, wantLabels[13], labels[13])

	// Missing files of the other partition.
	_, _, err = load(baseDir, Test)
	require.Error(t, err)
}

func TestLoadCorruptFiles(t *testing.T) {
	baseDir := t.TempDir()
	images, labels := makeTestExamples(10)

	// Images/labels count mismatch.
	writeTestPartition(t, baseDir, Train, images, labels[:9])
	_, _, err := load(baseDir, Train)
	require.ErrorContains(t, err, "10 images but 9 labels")

	// Wrong magic number: labels file in place of the images file.
	imagesFilename, _ := Train.filenames()
	writeIdxFile(t, path.Join(baseDir, imagesFilename),
		labelsHeader{Magic: labelMagic, NumLabels: 10}, labels)
	_, _, err = load(baseDir, Train)
	require.ErrorContains(t, err, "magic number")

	// Unexpected image dimensions.
	writeIdxFile(t, path.Join(baseDir, imagesFilename),
		imagesHeader{Magic: imageMagic, NumImages: 10, Height: 14, Width: 14}, images)
	_, _, err = load(baseDir, Train)
	require.ErrorContains(t, err, "14x14")
}

func TestToTensor(t *testing.T) {
	// Constant images resize to constant images, so the [0, 255] -> [0, 1]
	// rescale can be checked exactly at both ends.
	var img Image
	got := ToTensor(img)
	require.True(t, got.Shape().Equal(shapes.Make(dtypes.Float32, 1, TargetSize, TargetSize)),
		"got shape %s", got.Shape())
	for _, v := range tensors.MustCopyFlatData[float32](got) {
		require.Equal(t, float32(0), v)
	}

	for p := range img {
		img[p] = 255
	}
	got = ToTensor(img)
	for _, v := range tensors.MustCopyFlatData[float32](got) {
		require.Equal(t, float32(1), v)
	}
}

func TestToTensorResizesAnySource(t *testing.T) {
	// Whatever the source size, the output is TargetSize x TargetSize.
	for _, size := range []image.Rectangle{
		image.Rect(0, 0, 14, 14),
		image.Rect(0, 0, 28, 28),
		image.Rect(0, 0, 100, 60),
	} {
		src := image.NewGray(size)
		for ii := range src.Pix {
			src.Pix[ii] = byte(ii % 256)
		}
		got := ToTensor(src)
		require.True(t, got.Shape().Equal(shapes.Make(dtypes.Float32, 1, TargetSize, TargetSize)),
			"source %s: got shape %s", size, got.Shape())
	}
}

func TestDataset(t *testing.T) {
	baseDir := t.TempDir()
	images, labels := makeTestExamples(7)
	writeTestPartition(t, baseDir, Test, images, labels)

	ds, err := NewDataset("test", baseDir, Test)
	require.NoError(t, err)
	require.Equal(t, "test", ds.Name())
	require.Equal(t, 7, ds.NumExamples())

	for epoch := range 2 {
		for ii := range 7 {
			_, inputs, dsLabels, err := ds.Yield()
			require.NoErrorf(t, err, "epoch %d, example %d", epoch, ii)
			require.Len(t, inputs, 1)
			require.Len(t, dsLabels, 1)
			require.True(t, inputs[0].Shape().Equal(shapes.Make(dtypes.Float32, 1, TargetSize, TargetSize)))
			require.True(t, dsLabels[0].Shape().Equal(shapes.Make(dtypes.Int32)))
			require.Equal(t, int32(labels[ii]), tensors.ToScalar[int32](dsLabels[0]))
		}
		_, _, _, err = ds.Yield()
		require.Equal(t, io.EOF, err)
		// Exhausted until reset.
		_, _, _, err = ds.Yield()
		require.Equal(t, io.EOF, err)
		ds.Reset()
	}
}
