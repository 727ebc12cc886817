package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, encodePNG(t, solidImage(12, 10, c)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeFormats(t *testing.T) {
	img := solidImage(5, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	var bmpBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, img); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}
	for name, raw := range map[string][]byte{
		"png": encodePNG(t, img),
		"bmp": bmpBuf.Bytes(),
	} {
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if b := got.Bounds(); b.Dx() != 5 || b.Dy() != 4 {
			t.Fatalf("%s: bounds %v", name, b)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Fatal("expected error for garbage payload")
	}
}

func TestToPixelsResizesAndNormalises(t *testing.T) {
	img := solidImage(40, 30, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	px := ToPixels(img, 8, 6)
	if len(px) != 8*6*3 {
		t.Fatalf("expected %d values, got %d", 8*6*3, len(px))
	}
	const tol = 2.0 / 255
	want := []float64{1, 0, 0.2}
	for i := 0; i < len(px); i += 3 {
		for c := 0; c < 3; c++ {
			if math.Abs(float64(px[i+c])-want[c]) > tol {
				t.Fatalf("pixel %d = %v, want about %v", i/3, px[i:i+3], want)
			}
		}
	}
}

func TestToPixelsRange(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	for _, v := range ToPixels(img, 7, 9) {
		if v < 0 || v > 1 {
			t.Fatalf("value %v outside [0,1]", v)
		}
	}
}
