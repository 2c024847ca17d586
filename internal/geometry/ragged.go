package geometry

import (
	"fmt"
	"sort"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Mask flags the valid pixels of one sample in row-major order.
type Mask []bool

// Indices returns the positions of the set entries.
func (m Mask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, ok := range m {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// Count returns the number of set entries.
func (m Mask) Count() int {
	n := 0
	for _, ok := range m {
		if ok {
			n++
		}
	}
	return n
}

// PositiveMasks returns one mask per sample of a B×C×H×W (or B×C×N) tensor
// flagging the positions where the first channel is positive.
func PositiveMasks(t *tensor.Tensor) []Mask {
	batch := t.Dim(0)
	per := t.NumElements() / batch
	n := per / t.Dim(1)
	data := t.Data()
	masks := make([]Mask, batch)
	for b := 0; b < batch; b++ {
		m := make(Mask, n)
		row := data[b*per : b*per+n]
		for i, v := range row {
			m[i] = v > 0
		}
		masks[b] = m
	}
	return masks
}

// RaggedCloud maps a batch index to that sample's 1×C×N point tensor.
// Different samples may hold different numbers of points.
type RaggedCloud map[int]*tensor.Tensor

// SelectMasked flattens the trailing dimensions of a B×C×… tensor and keeps,
// for every sample, the columns flagged by its mask.
func SelectMasked(t *tensor.Tensor, masks []Mask) RaggedCloud {
	batch, c := t.Dim(0), t.Dim(1)
	if len(masks) != batch {
		panic(fmt.Sprintf("geometry: %d masks for batch of %d", len(masks), batch))
	}
	flat := t.Reshape(batch, c, -1)
	cloud := make(RaggedCloud, batch)
	for b, m := range masks {
		if len(m) != flat.Dim(2) {
			panic(fmt.Sprintf("geometry: mask of %d entries for %d points", len(m), flat.Dim(2)))
		}
		idx := m.Indices()
		if len(idx) == 0 {
			continue
		}
		cloud[b] = flat.Narrow(0, b, 1).IndexSelect(2, idx)
	}
	return cloud
}

// Samples returns the batch indices present in the cloud in ascending order.
func (rc RaggedCloud) Samples() []int {
	idx := make([]int, 0, len(rc))
	for b := range rc {
		idx = append(idx, b)
	}
	sort.Ints(idx)
	return idx
}

// Len returns the number of points held for sample b.
func (rc RaggedCloud) Len(b int) int {
	t, ok := rc[b]
	if !ok {
		return 0
	}
	return t.Dim(2)
}

// Rows keeps rows [start, start+n) of every sample, e.g. Rows(0, 3) drops
// the homogeneous coordinate.
func (rc RaggedCloud) Rows(start, n int) RaggedCloud {
	out := make(RaggedCloud, len(rc))
	for b, t := range rc {
		out[b] = t.Narrow(1, start, n)
	}
	return out
}

// Transform applies the per-sample rigid transforms T (B×4×4) to
// homogeneous 1×4×N clouds.
func (rc RaggedCloud) Transform(t *tensor.Tensor) RaggedCloud {
	out := make(RaggedCloud, len(rc))
	for b, pts := range rc {
		out[b] = t.Narrow(0, b, 1).MatMul(pts.WithBackend(t.Backend()))
	}
	return out
}
