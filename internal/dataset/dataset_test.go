package dataset_test

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cvodepth/internal/backend/cpu"
	"github.com/born-ml/cvodepth/internal/dataset"
	"github.com/born-ml/cvodepth/internal/geometry"
	"github.com/born-ml/cvodepth/internal/tensor"
)

var testLayout = dataset.Layout{
	FrameIDs:  []dataset.FrameID{0, -1, 1},
	NumScales: 2,
	Height:    16,
	Width:     32,
}

func TestParseFrameID(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want dataset.FrameID
	}{
		{"0", 0}, {"-1", -1}, {"1", 1}, {"s", dataset.Stereo},
	} {
		got, err := dataset.ParseFrameID(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.in, got.String())
	}
	_, err := dataset.ParseFrameID("x")
	assert.Error(t, err)
}

func TestProjectLiDARKeepsNearest(t *testing.T) {
	base := geometry.KITTIIntrinsics
	h, w := 10, 20
	fx, cx := base[0][0]*float64(w), base[0][2]*float64(w)
	fy, cy := base[1][1]*float64(h), base[1][2]*float64(h)
	point := func(u, v int, z float64) r3.Vector {
		return r3.Vector{X: (float64(u) + 1 - cx) / fx * z, Y: (float64(v) + 1 - cy) / fy * z, Z: z}
	}

	depth := dataset.ProjectLiDAR([]r3.Vector{
		point(3, 4, 9), point(3, 4, 5), point(7, 2, 12),
		{X: 0, Y: 0, Z: -1},
	}, base, h, w)
	assert.InDelta(t, 5, depth.At(0, 4, 3), 1e-6)
	assert.InDelta(t, 12, depth.At(0, 2, 7), 1e-6)

	count := 0
	for _, v := range depth.Pix {
		if v > 0 {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestDepthMasksCloseScanGaps(t *testing.T) {
	depth := dataset.NewPlane(1, 24, 12)
	// Two scan lines in the upper half, two rows apart.
	for x := 0; x < 12; x++ {
		depth.Set(0, 1, x, 10)
		depth.Set(0, 3, x, 10)
	}
	mask, maskGT := dataset.DepthMasks(depth, 1)

	assert.EqualValues(t, 1, mask.At(0, 2, 5), "gap between scan lines is closed")
	assert.EqualValues(t, 0, maskGT.At(0, 2, 5))
	assert.EqualValues(t, 1, maskGT.At(0, 1, 5))
	assert.EqualValues(t, 1, mask.At(0, 23, 0), "lower half is always set")
	assert.EqualValues(t, 0, mask.At(0, 8, 0))
}

func TestSyntheticSample(t *testing.T) {
	src := dataset.NewSyntheticSource(dataset.SyntheticOptions{Layout: testLayout, Length: 4})
	s, err := src.Sample(context.Background(), 1, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NoError(t, s.Validate(testLayout.FrameIDs, testLayout.NumScales, testLayout.Height, testLayout.Width))

	require.NotNil(t, s.DepthGT)
	assert.NotEmpty(t, s.Velo)
	for _, f := range testLayout.FrameIDs {
		fs := s.Frames[f]
		require.Len(t, fs.DepthGT, 2)
		valid := 0
		for _, v := range fs.DepthGT[0].Pix {
			if v > 0 {
				valid++
			}
		}
		assert.Greater(t, valid, 0)
		assert.Less(t, valid, testLayout.Height*testLayout.Width, "LiDAR ground truth is sparse")
	}

	pose := src.GroundTruthPose(1, 1)
	assert.InDelta(t, -0.5, pose[2][3], 1e-12)
}

func TestCollate(t *testing.T) {
	src := dataset.NewSyntheticSource(dataset.SyntheticOptions{Layout: testLayout, Length: 4})
	var samples []*dataset.Sample
	for i := 0; i < 2; i++ {
		s, err := src.Sample(context.Background(), i, rand.New(rand.NewSource(int64(i))))
		require.NoError(t, err)
		samples = append(samples, s)
	}

	b, err := dataset.Collate(samples, testLayout, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, 2, b.Size)
	assert.True(t, b.HasDepthGT(0))
	assert.Nil(t, b.StereoT)
	assert.Equal(t, tensor.Shape{2, 1, 16, 32}, b.DepthGT.Shape())
	assert.Equal(t, tensor.Shape{2, 3, 8, 16}, b.Frame(-1, 1).Color.Shape())
	assert.Equal(t, 8, b.Scale(1).Intrinsics.Height)
	assert.InDelta(t, 0.58*16, b.Scale(1).Intrinsics.K.At(1, 0, 0), 1e-5)
	assert.Len(t, b.Velo, 2)

	_, err = dataset.Collate(nil, testLayout, cpu.New())
	assert.Error(t, err)
}

func TestLoaderEpochAndCycle(t *testing.T) {
	src := dataset.NewSyntheticSource(dataset.SyntheticOptions{Layout: testLayout, Length: 5})
	l, err := dataset.NewLoader(src, testLayout, dataset.LoaderOptions{
		BatchSize: 2, Shuffle: true, DropLast: true, NumWorkers: 2, Prefetch: 2, Seed: 3,
	}, cpu.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	epoch := l.Epoch(context.Background())
	for i := 0; i < 2; i++ {
		b, err := epoch.Next()
		require.NoError(t, err)
		assert.Equal(t, 2, b.Size)
	}
	_, err = epoch.Next()
	assert.ErrorIs(t, err, io.EOF)
	epoch.Close()

	cycle := l.Cycle(context.Background())
	defer cycle.Close()
	for i := 0; i < 5; i++ {
		b, err := cycle.Next()
		require.NoError(t, err)
		require.NotNil(t, b)
	}
}

func TestLoaderStopsOnCancel(t *testing.T) {
	src := dataset.NewSyntheticSource(dataset.SyntheticOptions{Layout: testLayout, Length: 8})
	l, err := dataset.NewLoader(src, testLayout, dataset.LoaderOptions{BatchSize: 2}, cpu.New(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	epoch := l.Epoch(ctx)
	defer epoch.Close()
	_, err = epoch.Next()
	assert.Error(t, err)
}

func writeTUMFrame(t *testing.T, root string, index int, withDepth bool) {
	t.Helper()
	rgb := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			rgb.SetNRGBA(x, y, color.NRGBA{R: uint8(4 * x), G: uint8(5 * y), B: 90, A: 255})
		}
	}
	require.NoError(t, imaging.Save(rgb, filepath.Join(root, "seq", "rgb", fmt.Sprintf("%010d.png", index))))
	if !withDepth {
		return
	}
	depth := image.NewGray16(image.Rect(0, 0, 64, 48))
	for y := 24; y < 48; y += 2 {
		for x := 0; x < 64; x++ {
			depth.SetGray16(x, y, color.Gray16{Y: 2 * dataset.TUMDepthScale})
		}
	}
	require.NoError(t, imaging.Save(depth, filepath.Join(root, "seq", "depth", fmt.Sprintf("%010d.png", index))))
}

func TestDirectorySourceTUM(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "seq", "rgb"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "seq", "depth"), 0o755))
	for i := 0; i < 3; i++ {
		writeTUMFrame(t, root, i, i != 2)
	}

	split := filepath.Join(root, "train.txt")
	require.NoError(t, os.WriteFile(split, []byte("seq 1 l\n\n"), 0o644))
	lines, err := dataset.ReadSplit(split)
	require.NoError(t, err)
	require.Equal(t, []string{"seq 1 l"}, lines)

	src, err := dataset.NewDirectorySource(dataset.DirectoryOptions{
		Root: root, Kind: dataset.KindTUM, Lines: lines, Layout: testLayout,
	})
	require.NoError(t, err)
	s, err := src.Sample(context.Background(), 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	require.NotNil(t, s.DepthGT)
	assert.Equal(t, 480, s.DepthGT.Height)
	assert.Len(t, s.Frames[-1].DepthGT, 2)
	assert.Nil(t, s.Frames[1].DepthGT, "frame 2 has no depth file")
	assert.Equal(t, geometry.TUMIntrinsics, s.K)

	maxDepth := float32(0)
	for _, v := range s.Frames[0].DepthGT[0].Pix {
		maxDepth = max(maxDepth, v)
	}
	assert.InDelta(t, 2, maxDepth, 1e-6)

	_, err = dataset.NewDirectorySource(dataset.DirectoryOptions{Kind: "nyu", Lines: lines})
	assert.Error(t, err)
}

func TestColorJitterIdentity(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(40 * (i % 5))
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	same := dataset.ColorJitter{Brightness: 1, Contrast: 1, Saturation: 1}.Apply(img)
	assert.Equal(t, img.Pix, same.Pix)
}
