package classifier

import (
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var resampleFilters = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"linear":     imaging.Linear,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
}

// ResampleFilter looks up a resize filter by its config name.
func ResampleFilter(name string) (imaging.ResampleFilter, error) {
	f, ok := resampleFilters[strings.ToLower(name)]
	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resample filter %q", name)
	}
	return f, nil
}

// Preprocessor turns decoded images into the fixed 1x256x256x3 model input.
type Preprocessor struct {
	width, height int
	layout        string
	filter        imaging.ResampleFilter
	numWorkers    int
}

func NewPreprocessor(layout, resample string) (*Preprocessor, error) {
	layout = strings.ToLower(layout)
	if layout != LayoutNHWC && layout != LayoutNCHW {
		return nil, fmt.Errorf("unknown tensor layout %q", layout)
	}
	filter, err := ResampleFilter(resample)
	if err != nil {
		return nil, err
	}

	return &Preprocessor{
		width:      InputWidth,
		height:     InputHeight,
		layout:     layout,
		filter:     filter,
		numWorkers: runtime.GOMAXPROCS(0),
	}, nil
}

// Shape returns the tensor shape produced by Process, batch dimension first.
func (p *Preprocessor) Shape() []int64 {
	if p.layout == LayoutNCHW {
		return []int64{1, InputChannels, int64(p.height), int64(p.width)}
	}
	return []int64{1, int64(p.height), int64(p.width), InputChannels}
}

// Resize drops alpha and scales the image to the model resolution without
// preserving aspect ratio.
func (p *Preprocessor) Resize(img image.Image) *image.NRGBA {
	return imaging.Resize(toRGB(img), p.width, p.height, p.filter)
}

// Process resizes img and returns a freshly allocated tensor with every
// value in [0,1].
func (p *Preprocessor) Process(img image.Image) []float32 {
	return p.Normalize(p.Resize(img))
}

// Normalize scales an already resized image into the model tensor.
func (p *Preprocessor) Normalize(pic *image.NRGBA) []float32 {
	buffer := make([]float32, p.width*p.height*InputChannels)
	p.processParallel(pic, buffer)
	return buffer
}

func (p *Preprocessor) processParallel(img *image.NRGBA, buffer []float32) {
	workers := p.numWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > p.height {
		workers = p.height
	}
	rowsPerWorker := p.height / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == workers-1 {
			endRow = p.height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				p.processRow(img, buffer, y)
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func (p *Preprocessor) processRow(img *image.NRGBA, buffer []float32, y int) {
	channelSize := p.width * p.height
	src := img.Pix[y*img.Stride:]
	for x := 0; x < p.width; x++ {
		r := float32(src[x*4]) / 255.0
		g := float32(src[x*4+1]) / 255.0
		b := float32(src[x*4+2]) / 255.0

		i := y*p.width + x
		if p.layout == LayoutNCHW {
			buffer[i] = r
			buffer[channelSize+i] = g
			buffer[channelSize*2+i] = b
			continue
		}
		buffer[i*3] = r
		buffer[i*3+1] = g
		buffer[i*3+2] = b
	}
}

// toRGB copies img into an opaque NRGBA image. Alpha is discarded rather
// than composited onto a background.
func toRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
