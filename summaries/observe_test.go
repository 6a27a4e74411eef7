package summaries

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDataset yields a fixed number of (2, 1, 4, 4) batches, the n-th one
// filled with the value n.
type fakeDataset struct {
	batches, next int
}

func (ds *fakeDataset) Name() string { return "fake" }

func (ds *fakeDataset) Reset() { ds.next = 0 }

func (ds *fakeDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.next >= ds.batches {
		return nil, nil, nil, io.EOF
	}
	ds.next++
	batch := tensors.FromShape(shapes.Make(dtypes.Float32, 2, 1, 4, 4))
	tensors.MustMutableFlatData(batch, func(flat []float32) {
		for ii := range flat {
			flat[ii] = float32(ds.next)
		}
	})
	return ds, []*tensors.Tensor{batch}, []*tensors.Tensor{tensors.FromScalar(int32(0))}, nil
}

func TestObserve(t *testing.T) {
	src := &fakeDataset{batches: 3}
	ds := Observe(src)
	assert.Equal(t, "fake [Observed]", ds.Name())
	require.Nil(t, ds.LastBatch(), "nothing observed before the first Yield")

	for ii := range 3 {
		_, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)

		last := ds.LastBatch()
		require.NotNil(t, last)
		assert.Equal(t,
			tensors.MustCopyFlatData[float32](inputs[0]),
			tensors.MustCopyFlatData[float32](last))

		// The observation is a copy: it survives the training loop
		// finalizing the yielded batch.
		inputs[0].MustFinalizeAll()
		last = ds.LastBatch()
		require.NotNil(t, last)
		assert.Equal(t, float32(ii+1), tensors.MustCopyFlatData[float32](last)[0])
	}

	// EOF passes through and leaves the last observation available.
	_, _, _, err := ds.Yield()
	require.Equal(t, io.EOF, err)
	require.NotNil(t, ds.LastBatch())

	ds.Reset()
	_, _, _, err = ds.Yield()
	require.NoError(t, err, "Reset must restart the source")
}
