package loss

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Depth evaluation range and the KITTI evaluation crop as fractions of the
// ground-truth image.
const (
	MetricMinDepth = 1e-3
	MetricMaxDepth = 80

	cropTop    = 0.40810811
	cropBottom = 0.99189189
	cropLeft   = 0.03594771
	cropRight  = 0.96405229
)

// DepthMetricNames lists the keys produced by DepthMetrics in log order.
var DepthMetricNames = []string{
	"de/abs_rel", "de/sq_rel", "de/rms", "de/log_rms", "da/a1", "da/a2", "da/a3",
}

// ErrNoValidDepth is returned when no ground-truth pixel survives masking.
var ErrNoValidDepth = errors.New("no valid ground-truth depth")

// DepthMetrics compares a B×1×h×w predicted depth with a B×1×H×W ground-truth
// depth. The prediction is resized to the ground truth, clamped, median
// scaled over the valid pixels of the batch and clamped again. Valid pixels
// have positive ground truth and, when crop is set, lie inside the KITTI
// evaluation crop.
func DepthMetrics(pred, gt *tensor.Tensor, crop bool) (map[string]float64, error) {
	batch, height, width := gt.Dim(0), gt.Dim(2), gt.Dim(3)
	if pred.Dim(0) != batch {
		return nil, errors.Errorf("loss: prediction batch %d, ground truth %d", pred.Dim(0), batch)
	}
	pred = pred.Interpolate(height, width).Clamp(MetricMinDepth, MetricMaxDepth)

	y0, y1, x0, x1 := 0, height, 0, width
	if crop {
		y0, y1 = int(cropTop*float64(height)), int(cropBottom*float64(height))
		x0, x1 = int(cropLeft*float64(width)), int(cropRight*float64(width))
	}

	pd, gd := pred.Data(), gt.Data()
	var p, g []float64
	for b := 0; b < batch; b++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				i := (b*height+y)*width + x
				if gd[i] > 0 {
					p = append(p, float64(pd[i]))
					g = append(g, float64(gd[i]))
				}
			}
		}
	}
	if len(g) == 0 {
		return nil, ErrNoValidDepth
	}

	ratio := median(g) / median(p)
	floats.Scale(ratio, p)
	for i, v := range p {
		p[i] = math.Min(math.Max(v, MetricMinDepth), MetricMaxDepth)
	}
	return depthErrors(g, p), nil
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

func depthErrors(gt, pred []float64) map[string]float64 {
	n := len(gt)
	thresh := make([]float64, n)
	absRel := make([]float64, n)
	sqRel := make([]float64, n)
	sq := make([]float64, n)
	sqLog := make([]float64, n)
	for i := range gt {
		thresh[i] = math.Max(gt[i]/pred[i], pred[i]/gt[i])
		d := gt[i] - pred[i]
		absRel[i] = math.Abs(d) / gt[i]
		sqRel[i] = d * d / gt[i]
		sq[i] = d * d
		l := math.Log(gt[i]) - math.Log(pred[i])
		sqLog[i] = l * l
	}

	within := func(limit float64) float64 {
		c := 0
		for _, t := range thresh {
			if t < limit {
				c++
			}
		}
		return float64(c) / float64(n)
	}
	return map[string]float64{
		"de/abs_rel": stat.Mean(absRel, nil),
		"de/sq_rel":  stat.Mean(sqRel, nil),
		"de/rms":     math.Sqrt(stat.Mean(sq, nil)),
		"de/log_rms": math.Sqrt(stat.Mean(sqLog, nil)),
		"da/a1":      within(1.25),
		"da/a2":      within(1.25 * 1.25),
		"da/a3":      within(1.25 * 1.25 * 1.25),
	}
}
