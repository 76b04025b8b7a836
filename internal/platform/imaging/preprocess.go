// Package imaging turns stored clinical images into the float tensors the
// visual models consume. Each Pipeline fixes the target size, the resampling
// filter, and the per-channel normalization of one model family.
package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// StorageMarker prefixes storage-relative locators ("/static/imgs/a.png").
const StorageMarker = "/static/"

// maxPixels caps the declared dimensions of a stored image. Headers are
// checked before any pixel buffer is allocated.
const maxPixels = 50_000_000

// Pipeline names a normalization pipeline.
type Pipeline string

const (
	// PipelineEfficientNet feeds EfficientNet-family classifiers: 224x224,
	// nearest-neighbour resampling, RGB values left in [0,255]. The model
	// graph carries its own rescaling and normalization layers, so the
	// channel transform is the identity.
	PipelineEfficientNet Pipeline = "efficientnet"

	// PipelineRawNormalized produces 128x128 bilinear-resampled RGB scaled
	// to [0,1]. No registered visual model consumes it yet; it is kept for
	// future disease/image pairings.
	PipelineRawNormalized Pipeline = "raw-normalized"
)

type pipelineSpec struct {
	width, height int
	interp        draw.Interpolator
	mean          [3]float32
	scale         [3]float32
}

var pipelines = map[Pipeline]pipelineSpec{
	PipelineEfficientNet: {
		width:  224,
		height: 224,
		interp: draw.NearestNeighbor,
		scale:  [3]float32{1, 1, 1},
	},
	PipelineRawNormalized: {
		width:  128,
		height: 128,
		interp: draw.BiLinear,
		scale:  [3]float32{1.0 / 255, 1.0 / 255, 1.0 / 255},
	},
}

// ParsePipeline validates a pipeline name.
func ParsePipeline(name string) (Pipeline, error) {
	p := Pipeline(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := pipelines[p]; !ok {
		return "", fmt.Errorf("unknown image pipeline %q", name)
	}
	return p, nil
}

// Pipelines lists every defined pipeline, sorted by name.
func Pipelines() []Pipeline {
	out := make([]Pipeline, 0, len(pipelines))
	for p := range pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Size returns the tensor height and width a pipeline produces.
func (p Pipeline) Size() (height, width int) {
	spec := pipelines[p]
	return spec.height, spec.width
}

// Tensor is a single-image NHWC float32 batch with shape [1, H, W, 3].
type Tensor struct {
	Pipeline Pipeline
	Shape    [4]int
	Data     []float32
}

// At returns the value at row y, column x, channel c.
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Shape[2]+x)*t.Shape[3]+c]
}

// Nested returns the tensor as [batch][row][col][channel], the layout
// model servers accept in JSON "instances".
func (t *Tensor) Nested() [][][][]float32 {
	h, w, ch := t.Shape[1], t.Shape[2], t.Shape[3]
	rows := make([][][]float32, h)
	for y := 0; y < h; y++ {
		cols := make([][]float32, w)
		for x := 0; x < w; x++ {
			off := (y*w + x) * ch
			cols[x] = t.Data[off : off+ch : off+ch]
		}
		rows[y] = cols
	}
	return [][][][]float32{rows}
}

// Preprocessor resolves image locators against a storage root and
// normalizes them. It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	root string
}

// NewPreprocessor returns a Preprocessor rooted at storageRoot, the directory
// that StorageMarker locators map to.
func NewPreprocessor(storageRoot string) (*Preprocessor, error) {
	if storageRoot == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(storageRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &Preprocessor{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute storage root.
func (p *Preprocessor) Root() string { return p.root }

// Resolve maps a locator to a filesystem path. Storage-relative locators,
// bare relative paths and absolute paths must all land inside the root.
func (p *Preprocessor) Resolve(locator string) (string, error) {
	loc := strings.TrimSpace(locator)
	if loc == "" {
		return "", &ImageNotFoundError{Locator: locator, Err: errors.New("empty locator")}
	}

	var path string
	switch {
	case strings.HasPrefix(loc, StorageMarker):
		path = filepath.Join(p.root, filepath.FromSlash(strings.TrimPrefix(loc, StorageMarker)))
	case filepath.IsAbs(loc):
		path = filepath.Clean(loc)
	default:
		path = filepath.Join(p.root, filepath.FromSlash(loc))
	}

	rel, err := filepath.Rel(p.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ImageNotFoundError{Locator: locator, Path: path, Err: errors.New("outside storage root")}
	}
	return path, nil
}

// Preprocess loads the image behind locator and normalizes it for pipeline.
func (p *Preprocessor) Preprocess(locator string, pipeline Pipeline) (*Tensor, error) {
	spec, ok := pipelines[pipeline]
	if !ok {
		return nil, fmt.Errorf("unknown image pipeline %q", pipeline)
	}

	path, err := p.Resolve(locator)
	if err != nil {
		return nil, err
	}

	src, err := decodeFile(locator, path)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, spec.width, spec.height))
	spec.interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	// Decoders yield RGB channel order, which is what both model families
	// were trained on; alpha is dropped.
	t := &Tensor{
		Pipeline: pipeline,
		Shape:    [4]int{1, spec.height, spec.width, 3},
		Data:     make([]float32, spec.height*spec.width*3),
	}
	i := 0
	for y := 0; y < spec.height; y++ {
		for x := 0; x < spec.width; x++ {
			off := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				t.Data[i] = (float32(dst.Pix[off+c]) - spec.mean[c]) * spec.scale[c]
				i++
			}
		}
	}
	return t, nil
}

func decodeFile(locator, path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ImageNotFoundError{Locator: locator, Path: path, Err: err}
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, &ImageDecodeError{Locator: locator, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, &ImageDecodeError{Locator: locator, Err: fmt.Errorf("dimensions %dx%d exceed %d pixels", cfg.Width, cfg.Height, maxPixels)}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, &ImageDecodeError{Locator: locator, Err: err}
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &ImageDecodeError{Locator: locator, Err: err}
	}
	return img, nil
}
