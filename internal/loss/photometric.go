package loss

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// SSIM constants for images in [0, 1].
const (
	ssimC1 = 0.01 * 0.01
	ssimC2 = 0.03 * 0.03

	ssimWeight      = 0.85
	maskBCEWeight   = 0.2
	tieBreakNoise   = 1e-5
	bceLogFloorProb = 1e-7
)

// SSIM returns the per-pixel structural dissimilarity (1 - SSIM)/2 of two
// B×C×H×W images over reflection-padded 3×3 windows, clamped to [0, 1].
func SSIM(x, y *tensor.Tensor) *tensor.Tensor {
	xp, yp := x.ReflectionPad2D(1), y.ReflectionPad2D(1)
	pool := func(t *tensor.Tensor) *tensor.Tensor { return t.AvgPool2D(3, 1) }

	muX, muY := pool(xp), pool(yp)
	sigmaX := pool(xp.Square()).Sub(muX.Square())
	sigmaY := pool(yp.Square()).Sub(muY.Square())
	sigmaXY := pool(xp.Mul(yp)).Sub(muX.Mul(muY))

	n := muX.Mul(muY).MulScalar(2).AddScalar(ssimC1).Mul(sigmaXY.MulScalar(2).AddScalar(ssimC2))
	d := muX.Square().Add(muY.Square()).AddScalar(ssimC1).Mul(sigmaX.Add(sigmaY).AddScalar(ssimC2))
	return n.Div(d).RSubScalar(1).MulScalar(0.5).Clamp(0, 1)
}

// Reprojection returns the B×1×H×W photometric error between a predicted
// and a target image: 0.85·SSIM + 0.15·L1, or plain L1 when noSSIM is set,
// both averaged over channels.
func Reprojection(pred, target *tensor.Tensor, noSSIM bool) *tensor.Tensor {
	l1 := pred.Sub(target).Abs().MeanDim(1, true)
	if noSSIM {
		return l1
	}
	ssim := SSIM(pred, target).MeanDim(1, true)
	return ssim.MulScalar(ssimWeight).Add(l1.MulScalar(1 - ssimWeight))
}

// Automask combines unwarped (identity) and warped reprojection losses,
// both B×K×H×W. Small Gaussian noise breaks ties in favor of neither. It
// returns the per-pixel minimum over all candidates (B×H×W) and the
// selection map flagging pixels where a warped candidate won.
func Automask(identity, reprojection *tensor.Tensor, rng *rand.Rand) (minLoss, selection *tensor.Tensor) {
	b := reprojection.Backend()
	noise := tensor.Zeros(identity.Shape(), b)
	nd := noise.Data()
	for i := range nd {
		nd[i] = float32(rng.NormFloat64()) * tieBreakNoise
	}
	identity = identity.WithBackend(b).Add(noise)

	combined := tensor.Cat([]*tensor.Tensor{identity, reprojection}, 1)
	minLoss = combined.MinDim(1, false)
	idx := combined.ArgMinDim(1, false)

	nIdentity := float32(identity.Dim(1))
	selection = tensor.Zeros(idx.Shape(), idx.Backend())
	sd := selection.Data()
	for i, v := range idx.Data() {
		if v > nIdentity-1 {
			sd[i] = 1
		}
	}
	return minLoss, selection
}

// photometricTerm is the per-scale reprojection objective with automasking
// or the predictive mask.
type photometricTerm struct{}

func (photometricTerm) Name() string { return "photometric" }

func (photometricTerm) Compute(st *State) error {
	opts := st.Opts
	for s := 0; s < opts.NumScales; s++ {
		src := st.SourceScale(s)
		target := st.Batch.Frame(0, src).Color

		var reproj []*tensor.Tensor
		for _, f := range st.Neighbors() {
			reproj = append(reproj, Reprojection(st.Warped(f, s), target, opts.NoSSIM))
		}
		reprojection := tensor.Cat(reproj, 1)

		var identity *tensor.Tensor
		if !opts.DisableAutomasking {
			var ids []*tensor.Tensor
			for _, f := range st.Neighbors() {
				ids = append(ids, Reprojection(st.Batch.Frame(f, src).Color, target, opts.NoSSIM))
			}
			identity = tensor.Cat(ids, 1)
			if opts.AvgReprojection {
				identity = identity.MeanDim(1, true)
			}
		} else if opts.PredictiveMask {
			mask := st.Out.PredictiveMask[s]
			if mask == nil {
				return errors.Errorf("predictive mask missing at scale %d", s)
			}
			if !opts.V1Multiscale {
				mask = mask.Interpolate(opts.Height, opts.Width)
			}
			reprojection = reprojection.Mul(mask)
			// BCE against an all-ones target reduces to -log(mask).
			bce := mask.Clamp(bceLogFloorProb, 1).Log().Neg().Mean()
			st.AddScaleLoss(s, bce.MulScalar(maskBCEWeight))
		}

		if opts.AvgReprojection {
			reprojection = reprojection.MeanDim(1, true)
		}

		var toOptimise *tensor.Tensor
		switch {
		case identity != nil:
			var selection *tensor.Tensor
			toOptimise, selection = Automask(identity, reprojection, st.Rand())
			st.identitySelection[s] = selection
		case reprojection.Dim(1) == 1:
			toOptimise = reprojection
		default:
			toOptimise = reprojection.MinDim(1, false)
		}
		st.AddScaleLoss(s, toOptimise.Mean())
	}
	return nil
}

// smoothnessTerm is the edge-aware smoothness of mean-normalized disparity,
// weighted by disparity_smoothness / 2^s.
type smoothnessTerm struct{}

func (smoothnessTerm) Name() string { return "smoothness" }

func (smoothnessTerm) Compute(st *State) error {
	for s := 0; s < st.Opts.NumScales; s++ {
		disp := st.Out.Disp[s]
		color := st.Batch.Frame(0, s).Color
		meanDisp := disp.MeanDim(3, true).MeanDim(2, true)
		normDisp := disp.Div(meanDisp.AddScalar(1e-7))
		weight := st.Opts.DisparitySmoothness / float32(int(1)<<s)
		st.AddScaleLoss(s, Smoothness(normDisp, color).MulScalar(weight))
	}
	return nil
}

// Smoothness penalizes disparity gradients, down-weighted where the image
// has strong gradients.
func Smoothness(disp, img *tensor.Tensor) *tensor.Tensor {
	h, w := disp.Dim(2), disp.Dim(3)
	gradDispX := disp.Narrow(3, 0, w-1).Sub(disp.Narrow(3, 1, w-1)).Abs()
	gradDispY := disp.Narrow(2, 0, h-1).Sub(disp.Narrow(2, 1, h-1)).Abs()

	img = img.WithBackend(disp.Backend())
	gradImgX := img.Narrow(3, 0, w-1).Sub(img.Narrow(3, 1, w-1)).Abs().MeanDim(1, true)
	gradImgY := img.Narrow(2, 0, h-1).Sub(img.Narrow(2, 1, h-1)).Abs().MeanDim(1, true)

	gradDispX = gradDispX.Mul(gradImgX.Neg().Exp())
	gradDispY = gradDispY.Mul(gradImgY.Neg().Exp())
	return gradDispX.Mean().Add(gradDispY.Mean())
}
