package summaries

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterScalars(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "go", map[string]any{"learning_rate": 0.01})
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())

	w.Scalar("loss", 1, 2.5)
	w.Scalar("loss", 2, 2.25)

	// Records stay in memory until the first flush.
	scalars, err := ReadScalars(dir)
	require.NoError(t, err)
	require.Empty(t, scalars)

	require.NoError(t, w.Flush())
	scalars, err = ReadScalars(dir)
	require.NoError(t, err)
	require.Equal(t, []Scalar{
		{Tag: "loss", Step: 1, Value: 2.5},
		{Tag: "loss", Step: 2, Value: 2.25},
	}, scalars)

	// Flushing nothing is a no-op.
	require.NoError(t, w.Flush())

	// Close flushes what's left, and is idempotent.
	w.Scalar("loss", 3, 2.0)
	w.Scalar("accuracy", 3, 0.5)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	scalars, err = ReadScalars(dir)
	require.NoError(t, err)
	require.Len(t, scalars, 4)
	assert.Equal(t, Scalar{Tag: "accuracy", Step: 3, Value: 0.5}, scalars[3])

	require.Error(t, w.Flush(), "flushing a closed writer must fail")
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "xla:cpu", map[string]any{"batch_size": 32})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, w.Manifest().ID, manifest.ID)
	_, err = uuid.Parse(manifest.ID)
	require.NoError(t, err, "run id must be a valid uuid")
	assert.Equal(t, "xla:cpu", manifest.Backend)
	assert.Equal(t, float64(32), manifest.Params["batch_size"])
	assert.False(t, manifest.Started.IsZero())

	// A new writer on the same directory replaces the run.
	w2, err := NewWriter(dir, "go", nil)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
	manifest2, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.NotEqual(t, manifest.ID, manifest2.ID)

	_, err = ReadManifest(t.TempDir())
	require.Error(t, err, "reading a non summary directory must fail")
}

func TestWriterImage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "go", nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, w.Close()) }()

	// 6 images of 8x8 pixels, each filled with a different gray level.
	batch := tensors.FromShape(shapes.Make(dtypes.Float32, 6, 1, 8, 8))
	tensors.MustMutableFlatData(batch, func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ii/(8*8)) / 5
		}
	})
	require.NoError(t, w.Image("image", 10, batch))

	images, err := ListImages(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"images/image-000010.png"}, images)

	f, err := os.Open(path.Join(dir, images[0]))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	decoded, err := png.Decode(f)
	require.NoError(t, err)

	// 6 images in a 4 columns grid: 2 rows, the second one half empty.
	require.Equal(t, image.Rect(0, 0, 4*8, 2*8), decoded.Bounds())
	gray := func(x, y int) uint8 {
		return color.GrayModel.Convert(decoded.At(x, y)).(color.Gray).Y
	}
	assert.Equal(t, uint8(0), gray(0, 0), "image 0 is all black")
	assert.Equal(t, uint8(255), gray(8+1, 8+1), "image 5 (row 1, col 1) is all white")

	// Only (batchSize, 1, height, width) float32 batches are supported.
	rgb := tensors.FromShape(shapes.Make(dtypes.Float32, 4, 3, 8, 8))
	require.Error(t, w.Image("bad", 1, rgb))
}

func TestListImagesEmpty(t *testing.T) {
	images, err := ListImages(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, images)
}
