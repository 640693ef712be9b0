package classifier

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

func whitePNG(t *testing.T, w, h int) image.Image {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func TestProcessWhiteImage(t *testing.T) {
	for _, resample := range []string{"nearest", "linear", "catmullrom", "lanczos"} {
		p, err := NewPreprocessor(LayoutNHWC, resample)
		if err != nil {
			t.Fatal(err)
		}

		tensor := p.Process(whitePNG(t, 10, 10))
		if len(tensor) != InputSize {
			t.Fatalf("%s: tensor has %d values, want %d", resample, len(tensor), InputSize)
		}
		for i, v := range tensor {
			if v != 1 {
				t.Fatalf("%s: tensor[%d] = %v, want 1", resample, i, v)
			}
		}
	}
}

func TestShape(t *testing.T) {
	nhwc, _ := NewPreprocessor(LayoutNHWC, "linear")
	nchw, _ := NewPreprocessor(LayoutNCHW, "linear")

	if got := nhwc.Shape(); got[0] != 1 || got[1] != 256 || got[2] != 256 || got[3] != 3 {
		t.Errorf("nhwc shape = %v", got)
	}
	if got := nchw.Shape(); got[0] != 1 || got[1] != 3 || got[2] != 256 || got[3] != 256 {
		t.Errorf("nchw shape = %v", got)
	}
}

func randomImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	return img
}

func TestProcessRangeAndDeterminism(t *testing.T) {
	p, err := NewPreprocessor(LayoutNHWC, "linear")
	if err != nil {
		t.Fatal(err)
	}

	img := randomImage(123, 77, 1)
	first := p.Process(img)
	second := p.Process(img)

	if len(first) != InputSize {
		t.Fatalf("tensor has %d values, want %d", len(first), InputSize)
	}
	for i := range first {
		if first[i] < 0 || first[i] > 1 {
			t.Fatalf("tensor[%d] = %v outside [0,1]", i, first[i])
		}
		if first[i] != second[i] {
			t.Fatalf("tensor[%d] differs between runs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestProcessLayouts(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, InputWidth, InputHeight))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 51, 255
	}

	nhwc, _ := NewPreprocessor(LayoutNHWC, "nearest")
	nchw, _ := NewPreprocessor(LayoutNCHW, "nearest")

	a := nhwc.Process(img)
	if a[0] != 1 || a[1] != 0 || a[2] != 0.2 {
		t.Errorf("nhwc first pixel = %v", a[:3])
	}

	b := nchw.Process(img)
	plane := InputWidth * InputHeight
	if b[0] != 1 || b[plane] != 0 || b[2*plane] != 0.2 {
		t.Errorf("nchw first pixel = %v %v %v", b[0], b[plane], b[2*plane])
	}
}

func TestProcessDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 255, 255, 0
	}

	p, _ := NewPreprocessor(LayoutNHWC, "linear")
	for i, v := range p.Process(img) {
		if v != 1 {
			t.Fatalf("tensor[%d] = %v, want 1 for transparent white", i, v)
		}
	}
}

func TestNewPreprocessorRejectsUnknownOptions(t *testing.T) {
	if _, err := NewPreprocessor("hwcn", "linear"); err == nil {
		t.Error("expected error for unknown layout")
	}
	if _, err := NewPreprocessor(LayoutNHWC, "box-ish"); err == nil {
		t.Error("expected error for unknown resample filter")
	}
}
