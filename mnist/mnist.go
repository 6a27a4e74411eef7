// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mnist provides the MNIST database of handwritten digits as streaming
// train.Dataset implementations, along with the input pipeline of the classic
// LeNet-5 recipe: bilinear resize from 28x28 to 32x32, pixel rescale to [0, 1],
// channels-first (CHW) layout and int32 labels, plus shuffle-buffer, batching
// and repeat decorators.
//
// Typical use:
//
//	must.M(mnist.Download(dataDir))
//	ds := must.M1(mnist.NewDataset("train", dataDir, mnist.Train))
//	batched := mnist.Batch(mnist.Shuffle(ds, 10000, rng), 32, true)
//
// The idx file format is described in http://yann.lecun.com/exdb/mnist/.
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"net/url"
	"os"
	"path"

	"github.com/gomlx/gomlx/examples/downloader"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	downloadURL = "https://storage.googleapis.com/cvdf-datasets/mnist"

	trainImagesFilename = "train-images-idx3-ubyte.gz"
	trainLabelsFilename = "train-labels-idx1-ubyte.gz"
	testImagesFilename  = "t10k-images-idx3-ubyte.gz"
	testLabelsFilename  = "t10k-labels-idx1-ubyte.gz"

	// Width and Height of the raw images stored in the idx files.
	Width  = 28
	Height = 28

	// NumClasses is the number of distinct digits.
	NumClasses = 10

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

// Partition selects one of the two subsets of the MNIST distribution.
type Partition int

const (
	// Train selects the 60000 training examples.
	Train Partition = iota

	// Test selects the 10000 test ("t10k") examples.
	Test
)

// String implements fmt.Stringer.
func (p Partition) String() string {
	if p == Train {
		return "train"
	}
	return "test"
}

func (p Partition) filenames() (images, labels string) {
	if p == Train {
		return trainImagesFilename, trainLabelsFilename
	}
	return testImagesFilename, testLabelsFilename
}

// NumExamples in the partition: 60000 for Train, 10000 for Test.
func (p Partition) NumExamples() int {
	if p == Train {
		return 60000
	}
	return 10000
}

// Image is one raw MNIST digit: Width x Height gray pixels, where 0 is the
// black background and 255 the white trace of the digit. It implements
// image.Image, so it can be fed directly to image manipulation libraries.
type Image [Width * Height]byte

// Label of a digit, from 0 to 9.
type Label = int8

// ColorModel implements image.Image.
func (img Image) ColorModel() color.Model { return color.GrayModel }

// Bounds implements image.Image.
func (img Image) Bounds() image.Rectangle { return image.Rect(0, 0, Width, Height) }

// At implements image.Image.
func (img Image) At(x, y int) color.Color { return color.Gray{Y: img[y*Width+x]} }

// Set changes the pixel at (x, y).
func (img *Image) Set(x, y int, v byte) { img[y*Width+x] = v }

// Download fetches the four MNIST idx files into baseDir, skipping files
// already present. It is cheap to call on every start.
func Download(baseDir string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	for _, filename := range []string{
		trainImagesFilename, trainLabelsFilename, testImagesFilename, testLabelsFilename} {
		fileURL, err := url.JoinPath(downloadURL, filename)
		if err != nil {
			return errors.Wrapf(err, "failed to build URL for %q", filename)
		}
		if err = downloader.DownloadIfMissing(fileURL, path.Join(baseDir, filename), ""); err != nil {
			return errors.WithMessagef(err, "failed to download %q from %s", filename, downloadURL)
		}
	}
	return nil
}

type imagesHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelsHeader struct {
	Magic     int32
	NumLabels int32
}

// load reads and parses both idx files of a partition, checking that image and
// label counts match.
func load(baseDir string, partition Partition) (images []Image, labels []Label, err error) {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	imagesFilename, labelsFilename := partition.filenames()
	images, err = loadImagesFile(path.Join(baseDir, imagesFilename))
	if err != nil {
		return nil, nil, err
	}
	labels, err = loadLabelsFile(path.Join(baseDir, labelsFilename))
	if err != nil {
		return nil, nil, err
	}
	if len(images) != len(labels) {
		return nil, nil, errors.Errorf(
			"MNIST %s partition is corrupted: %d images but %d labels", partition, len(images), len(labels))
	}
	return
}

// loadImagesFile parses one gzip-compressed idx3 images file.
func loadImagesFile(filePath string) ([]Image, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open MNIST images file -- has it been downloaded?")
	}
	defer func() { _ = f.Close() }()
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to un-compress %q", filePath)
	}
	defer func() { _ = r.Close() }()

	var header imagesHeader
	if err = binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read idx header of %q", filePath)
	}
	if header.Magic != imageMagic {
		return nil, errors.Errorf("%q: magic number is 0x%08X, wanted 0x%08X for an idx3 images file",
			filePath, header.Magic, imageMagic)
	}
	if header.Width != Width || header.Height != Height {
		return nil, errors.Errorf("%q: images are %dx%d, expected %dx%d",
			filePath, header.Width, header.Height, Width, Height)
	}
	images := make([]Image, header.NumImages)
	for ii := range images {
		if err = binary.Read(r, binary.BigEndian, &images[ii]); err != nil {
			return nil, errors.Wrapf(err, "failed to read image %d of %d from %q", ii, len(images), filePath)
		}
	}
	return images, nil
}

// loadLabelsFile parses one gzip-compressed idx1 labels file.
func loadLabelsFile(filePath string) ([]Label, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open MNIST labels file -- has it been downloaded?")
	}
	defer func() { _ = f.Close() }()
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to un-compress %q", filePath)
	}
	defer func() { _ = r.Close() }()

	var header labelsHeader
	if err = binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read idx header of %q", filePath)
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("%q: magic number is 0x%08X, wanted 0x%08X for an idx1 labels file",
			filePath, header.Magic, labelMagic)
	}
	labels := make([]Label, header.NumLabels)
	if err = binary.Read(r, binary.BigEndian, labels); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d labels from %q", len(labels), filePath)
	}
	return labels, nil
}
