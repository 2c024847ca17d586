package dataset

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/born-ml/cvodepth/internal/geometry"
)

// Source produces uncollated samples. Implementations must be safe for
// concurrent calls; rng is owned by the caller for the duration of the call.
type Source interface {
	Len() int
	Sample(ctx context.Context, index int, rng *rand.Rand) (*Sample, error)
}

// Directory dataset kinds.
const (
	KindKITTI = "kitti"
	KindTUM   = "tum"
)

// stereoBaseline is the normalized stereo baseline.
const stereoBaseline = 0.1

// DirectoryOptions configures a DirectorySource.
type DirectoryOptions struct {
	Root     string
	Kind     string
	ImageExt string
	// Lines are split entries "<folder> <frame index> [<side>]".
	Lines  []string
	Layout Layout
	// Augment enables random flips and color jitter.
	Augment bool
}

// ReadSplit returns the non-empty lines of a split file.
func ReadSplit(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open split")
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, errors.Wrapf(sc.Err(), "read split %s", path)
}

// DirectorySource reads KITTI-style or TUM-style sequences from disk.
//
// KITTI: <folder>/image_0{2,3}/data/<index>.<ext> with ground truth in
// <folder>/proj_depth/groundtruth/image_0{2,3}/<index>.png (depth·256).
// TUM: <folder>/rgb/<index>.<ext> with <folder>/depth/<index>.png
// (depth·5000). Indices are zero-padded to ten digits.
type DirectorySource struct {
	opts    DirectoryOptions
	base    geometry.Matrix4
	fullRes image.Point
}

// NewDirectorySource validates opts.
func NewDirectorySource(opts DirectoryOptions) (*DirectorySource, error) {
	src := &DirectorySource{opts: opts}
	switch opts.Kind {
	case KindKITTI:
		src.base, src.fullRes = geometry.KITTIIntrinsics, image.Pt(1242, 375)
	case KindTUM:
		src.base, src.fullRes = geometry.TUMIntrinsics, image.Pt(640, 480)
	default:
		return nil, errors.Errorf("dataset: unknown kind %q", opts.Kind)
	}
	if src.opts.ImageExt == "" {
		src.opts.ImageExt = ".png"
	}
	if len(opts.Lines) == 0 {
		return nil, errors.New("dataset: empty split")
	}
	return src, nil
}

// Len returns the number of split entries.
func (d *DirectorySource) Len() int { return len(d.opts.Lines) }

type splitEntry struct {
	folder string
	index  int
	side   string
}

func parseEntry(line string) (splitEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return splitEntry{}, errors.Errorf("malformed split line %q", line)
	}
	idx, err := strconv.Atoi(fields[1])
	if err != nil {
		return splitEntry{}, errors.Wrapf(err, "split line %q", line)
	}
	e := splitEntry{folder: fields[0], index: idx, side: "l"}
	if len(fields) > 2 {
		e.side = fields[2]
	}
	return e, nil
}

func otherSide(side string) string {
	if side == "r" || side == "3" {
		return "l"
	}
	return "r"
}

func cameraDir(side string) string {
	if side == "r" || side == "3" {
		return "image_03"
	}
	return "image_02"
}

func (d *DirectorySource) imagePath(e splitEntry, index int, side string) string {
	name := fmt.Sprintf("%010d%s", index, d.opts.ImageExt)
	if d.opts.Kind == KindTUM {
		return filepath.Join(d.opts.Root, e.folder, "rgb", name)
	}
	return filepath.Join(d.opts.Root, e.folder, cameraDir(side), "data", name)
}

func (d *DirectorySource) depthPath(e splitEntry, index int, side string) string {
	name := fmt.Sprintf("%010d.png", index)
	if d.opts.Kind == KindTUM {
		return filepath.Join(d.opts.Root, e.folder, "depth", name)
	}
	return filepath.Join(d.opts.Root, e.folder, "proj_depth", "groundtruth", cameraDir(side), name)
}

func (d *DirectorySource) depthScale() float32 {
	if d.opts.Kind == KindTUM {
		return TUMDepthScale
	}
	return KITTIDepthScale
}

// Sample loads every frame of split entry index.
func (d *DirectorySource) Sample(ctx context.Context, index int, rng *rand.Rand) (*Sample, error) {
	e, err := parseEntry(d.opts.Lines[index])
	if err != nil {
		return nil, err
	}
	layout := d.opts.Layout
	doFlip := d.opts.Augment && rng.Float64() > 0.5
	var jitter *ColorJitter
	if d.opts.Augment && rng.Float64() > 0.5 {
		j := NewColorJitter(rng)
		jitter = &j
	}

	s := &Sample{Frames: make(map[FrameID]*FrameSample), K: d.base}
	for _, f := range layout.FrameIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frameIndex, side := e.index+int(f), e.side
		if f == Stereo {
			frameIndex, side = e.index, otherSide(e.side)
		}

		img, err := imaging.Open(d.imagePath(e, frameIndex, side))
		if err != nil {
			return nil, errors.Wrapf(err, "frame %s of %q", f, d.opts.Lines[index])
		}
		if doFlip {
			img = imaging.FlipH(img)
		}
		fs := &FrameSample{}
		fs.Color, fs.ColorAug = Pyramid(img, layout.NumScales, layout.Height, layout.Width, jitter)
		if fs.ColorAug == nil {
			fs.ColorAug = fs.Color
		}

		full, err := d.loadDepth(e, frameIndex, side, doFlip)
		if err != nil {
			return nil, err
		}
		if full != nil {
			addDepthPyramid(fs, full, layout)
			if f == 0 {
				s.DepthGT = full
			}
		}
		s.Frames[f] = fs
	}

	if _, ok := s.Frames[Stereo]; ok {
		s.StereoT = stereoTransform(e.side, doFlip)
	}
	return s, nil
}

// loadDepth returns the full-resolution ground truth or nil when the file
// does not exist.
func (d *DirectorySource) loadDepth(e splitEntry, index int, side string, flip bool) (*Plane, error) {
	path := d.depthPath(e, index, side)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open depth")
	}
	depth := DepthFromPNG(img, d.depthScale(), d.fullRes.Y, d.fullRes.X)
	if flip {
		depth.FlipH()
	}
	return depth, nil
}

// addDepthPyramid resizes full-resolution ground truth to every scale and
// derives the masks.
func addDepthPyramid(fs *FrameSample, full *Plane, layout Layout) {
	for s := 0; s < layout.NumScales; s++ {
		depth := ResizeNearest(full, layout.Height>>s, layout.Width>>s)
		mask, maskGT := DepthMasks(depth, s)
		fs.DepthGT = append(fs.DepthGT, depth)
		fs.DepthMask = append(fs.DepthMask, mask)
		fs.DepthMaskGT = append(fs.DepthMaskGT, maskGT)
	}
}

// stereoTransform maps host points into the other camera of the pair.
func stereoTransform(side string, flip bool) *geometry.Matrix4 {
	baselineSign := 1.0
	if flip {
		baselineSign = -1
	}
	sideSign := 1.0
	if side == "l" || side == "2" {
		sideSign = -1
	}
	t := geometry.Matrix4{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	t[0][3] = sideSign * baselineSign * stereoBaseline
	return &t
}
