package cvo

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// stdEps floors standard deviations during standardization.
const stdEps = 1e-8

// Cloud is one explicit point set: XYZ is 1×3×N, HSV is nil or 1×3×N.
type Cloud struct {
	XYZ *tensor.Tensor
	HSV *tensor.Tensor
}

// Len returns the number of points.
func (c Cloud) Len() int {
	return c.XYZ.Dim(2)
}

func (c Cloud) same(other Cloud) bool {
	return c.XYZ == other.XYZ && c.HSV == other.HSV
}

// Select keeps the points at idx.
func (c Cloud) Select(idx []int) Cloud {
	out := Cloud{XYZ: c.XYZ.IndexSelect(2, idx)}
	if c.HSV != nil {
		out.HSV = c.HSV.IndexSelect(2, idx)
	}
	return out
}

// Subsample returns the indices of the points to keep out of n. When n does
// not exceed limit every index is returned in order; otherwise exactly limit
// distinct indices are drawn uniformly without replacement. A limit of 0
// keeps everything.
func Subsample(rng *rand.Rand, n, limit int) []int {
	if limit <= 0 || n <= limit {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := rng.Perm(n)[:limit]
	sort.Ints(idx)
	return idx
}

// Sparse subsamples both clouds to the configured cap and compares them
// with full Gramians. Passing the same cloud twice short-circuits to zero
// distance.
func (e *Engine) Sparse(c0, c1 Cloud) Result {
	if c0.same(c1) {
		return identityResult(c0.XYZ.Backend())
	}
	if n := c0.Len(); n > e.opts.Cap && e.opts.Cap > 0 {
		c0 = c0.Select(Subsample(e.rng, n, e.opts.Cap))
	}
	if n := c1.Len(); n > e.opts.Cap && e.opts.Cap > 0 {
		c1 = c1.Select(Subsample(e.rng, n, e.opts.Cap))
	}
	return e.InnerProducts(c0, c1)
}

// InnerProducts compares two clouds without subsampling.
func (e *Engine) InnerProducts(c0, c1 Cloud) Result {
	if c0.same(c1) {
		return identityResult(c0.XYZ.Backend())
	}
	a0, a1 := normalize(c0.XYZ, c1.XYZ, e.opts.XYZNorm)
	doms := []domain{{a0, a1, e.opts.GeoScale}}
	if e.opts.UseHSV && c0.HSV != nil && c1.HSV != nil {
		h0, h1 := normalize(c0.HSV, c1.HSV, e.opts.HSVNorm)
		doms = append(doms, domain{h0, h1, e.opts.HSVScale})
	}

	inp00 := e.inner(doms, 0, 0)
	inp11 := e.inner(doms, 1, 1)
	inp01 := e.inner(doms, 0, 1)
	return Distances(inp00, inp11, inp01)
}

type domain struct {
	v0, v1 *tensor.Tensor
	scale  float32
}

func (d domain) set(i int) *tensor.Tensor {
	if i == 0 {
		return d.v0
	}
	return d.v1
}

func (e *Engine) inner(doms []domain, i, j int) *tensor.Tensor {
	var gram *tensor.Tensor
	for _, d := range doms {
		g := Gramian(d.set(i), d.set(j), d.scale)
		if gram == nil {
			gram = g
		} else {
			gram = gram.Mul(g)
		}
	}
	inp := gram.Sum()
	if e.opts.NormalizeOverPoints {
		inp = inp.MulScalar(1 / float32(gram.Dim(0)*gram.Dim(1)))
	}
	return inp
}

// Gramian returns the N×M Gaussian kernel matrix between the points of
// a (1×C×N or C×N) and b (1×C×M or C×M).
func Gramian(a, b *tensor.Tensor, lengthScale float32) *tensor.Tensor {
	a, b = columns(a), columns(b)
	if a.Dim(0) != b.Dim(0) {
		panic(fmt.Sprintf("cvo: feature sizes differ: %v vs %v", a.Shape(), b.Shape()))
	}
	return a.SqDist(b).MulScalar(-1 / (2 * lengthScale * lengthScale)).Exp()
}

func columns(t *tensor.Tensor) *tensor.Tensor {
	if len(t.Shape()) == 3 {
		return t.Reshape(t.Dim(1), t.Dim(2))
	}
	return t
}

// normalize standardizes a pair of 1×C×N feature sets along the point axis.
// Sets with fewer than two points are left unchanged.
func normalize(a, b *tensor.Tensor, mode Norm) (*tensor.Tensor, *tensor.Tensor) {
	switch mode {
	case NormSep:
		return standardize(a, a), standardize(b, b)
	case NormTog:
		joint := tensor.Cat([]*tensor.Tensor{a, b}, 2)
		return standardize(a, joint), standardize(b, joint)
	default:
		return a, b
	}
}

// standardize applies the per-channel statistics of ref to v.
func standardize(v, ref *tensor.Tensor) *tensor.Tensor {
	if ref.Dim(2) < 2 {
		return v
	}
	mean := ref.MeanDim(2, true)
	std := ref.StdDim(2, true).AddScalar(stdEps)
	return v.Sub(mean).Div(std)
}
