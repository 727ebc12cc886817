package dataset

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Decode parses a JPEG, PNG, GIF or BMP image.
func Decode(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, errors.New("decode image: empty payload")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("decode image: empty bounds")
	}
	return img, nil
}

// ToPixels resizes img to height x width with bilinear interpolation and
// returns RGB values in [0, 1], row-major with channels last.
func ToPixels(img image.Image, height, width int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]float32, height*width*3)
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			o := (y*width + x) * 3
			out[o] = float32(px[0]) / 255
			out[o+1] = float32(px[1]) / 255
			out[o+2] = float32(px[2]) / 255
		}
	}
	return out
}
