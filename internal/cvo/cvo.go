// Package cvo computes continuous visual odometry (CVO) similarities between
// point sets.
//
// Each point carries features in one or more domains (position xyz and,
// optionally, color hsv). For two sets the engine evaluates Gaussian
// Gramians
//
//	G[i,j] = exp(-||a_i - b_j||² / (2ℓ²))
//
// per domain, multiplies the domains element-wise and sums the result into
// an inner product. From the three inner products (0,0), (1,1) and (0,1)
// it derives the squared function distance
//
//	f_dist = inp00 + inp11 - 2·inp01
//
// and the cosine dissimilarity 1 - inp01/sqrt(inp00·inp11).
//
// Two modes exist. Sparse mode compares explicit point lists (subsampled to
// a cap) with full pairwise Gramians. Dense mode works on image-layout
// clouds and compares every host pixel only with a local window of the
// other image. They are separate approximations and agree only up to the
// window truncation.
package cvo

import (
	"math/rand"
	"strings"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Norm selects how a feature domain is standardized before the Gramian.
type Norm string

// Normalization modes.
const (
	// NormOri uses the features unchanged.
	NormOri Norm = "ori"
	// NormSep standardizes each point set on its own.
	NormSep Norm = "sep"
	// NormTog standardizes both point sets with their joint statistics.
	NormTog Norm = "tog"
)

// Valid reports whether n names a known mode.
func (n Norm) Valid() bool {
	switch n {
	case NormOri, NormSep, NormTog:
		return true
	}
	return false
}

// Default kernel length scales and window.
const (
	DefaultGeoScale   = 0.1
	DefaultHSVScale   = 0.4
	DefaultHalfWindow = 4
)

// Options configures an Engine.
type Options struct {
	GeoScale float32 // length scale of the xyz domain
	HSVScale float32 // length scale of the hsv domain
	XYZNorm  Norm
	HSVNorm  Norm
	// UseHSV adds the color domain when both clouds carry HSV features.
	UseHSV bool
	// NormalizeOverPoints divides every inner product by N·M.
	NormalizeOverPoints bool
	// Cap bounds the number of points per set in sparse mode; 0 disables
	// subsampling.
	Cap int
	// HalfWindow is the half extent of the dense comparison window.
	HalfWindow int
}

func (o Options) withDefaults() Options {
	if o.GeoScale == 0 {
		o.GeoScale = DefaultGeoScale
	}
	if o.HSVScale == 0 {
		o.HSVScale = DefaultHSVScale
	}
	if o.XYZNorm == "" {
		o.XYZNorm = NormOri
	}
	if o.HSVNorm == "" {
		o.HSVNorm = NormOri
	}
	if o.HalfWindow == 0 {
		o.HalfWindow = DefaultHalfWindow
	}
	return o
}

// Item names the feature configuration, e.g. "hsv_ori_xyz_ori_". It is
// used in diagnostic keys.
func (o Options) Item() string {
	o = o.withDefaults()
	var sb strings.Builder
	if o.UseHSV {
		sb.WriteString("hsv_" + string(o.HSVNorm) + "_")
	}
	sb.WriteString("xyz_" + string(o.XYZNorm) + "_")
	return sb.String()
}

// Result holds the inner products of two point sets and the derived losses.
// All values are 0-D tensors.
type Result struct {
	Inp00 *tensor.Tensor
	Inp11 *tensor.Tensor
	Inp01 *tensor.Tensor
	// FDist is the squared function distance.
	FDist *tensor.Tensor
	// Cos is the cosine dissimilarity, 0 when a self inner product is not
	// positive.
	Cos *tensor.Tensor
}

// NegInp returns -inp01, the inner product loss term.
func (r Result) NegInp() *tensor.Tensor {
	return r.Inp01.Neg()
}

// Engine evaluates CVO similarities with fixed options.
type Engine struct {
	opts Options
	rng  *rand.Rand
}

// New creates an engine. rng drives sparse subsampling.
func New(opts Options, rng *rand.Rand) *Engine {
	return &Engine{opts: opts.withDefaults(), rng: rng}
}

// Options returns the engine's options with defaults applied.
func (e *Engine) Options() Options {
	return e.opts
}

// Distances derives f_dist and the guarded cosine dissimilarity.
func Distances(inp00, inp11, inp01 *tensor.Tensor) Result {
	fDist := inp00.Add(inp11).Sub(inp01.MulScalar(2))
	var cos *tensor.Tensor
	product := inp00.Mul(inp11)
	if product.Item() > 0 {
		cos = inp01.Div(product.Sqrt()).RSubScalar(1)
	} else {
		cos = tensor.Scalar(0, inp01.Backend())
	}
	return Result{Inp00: inp00, Inp11: inp11, Inp01: inp01, FDist: fDist, Cos: cos}
}

// identityResult is the result of comparing a frame with itself. No
// Gramian is evaluated.
func identityResult(b tensor.Backend) Result {
	zero := tensor.Scalar(0, b)
	return Result{Inp00: zero, Inp11: zero, Inp01: zero, FDist: zero, Cos: zero}
}
