package telemetry

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Series is one named loss curve.
type Series struct {
	Name   string
	Points []Point
}

// PlotLosses draws every series on one chart and saves it to path. The
// format follows the file extension (png, svg, pdf).
func PlotLosses(path, title string, series []Series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())

	palette := colorful.FastHappyPalette(max(len(series), 1))
	drawn := 0
	for i, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(s.Points))
		for k, pt := range s.Points {
			pts[k] = plotter.XY{X: float64(pt.Step), Y: pt.Value}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrap(err, s.Name)
		}
		r, g, b := palette[i].Clamped().RGB255()
		line.Color = color.NRGBA{R: r, G: g, B: b, A: 255}
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.Name, line)
		drawn++
	}
	if drawn == 0 {
		return errors.New("telemetry: nothing to plot")
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

// PlotDatabase plots tags of mode from a scalar database.
func PlotDatabase(dbPath, runID, mode string, tags []string, path string) error {
	var series []Series
	for _, tag := range tags {
		points, err := ReadSeries(dbPath, runID, mode, tag)
		if err != nil {
			return err
		}
		series = append(series, Series{Name: tag, Points: points})
	}
	return PlotLosses(path, mode+" losses", series)
}
