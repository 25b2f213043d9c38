// MODUL: tensor
// ZWECK: Konvertierung zwischen Bildern und Netzwerk-Tensoren
// INPUT: Image + Mask bzw. [1,C,H,W]-Tensor
// OUTPUT: img_miss [1,3,H,W] und known [1,1,H,W] in [0,1], oder RGBA-Bild
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: ml
// HINWEISE: known = 1 fuer bekannte Pixel, 0 fuer Loecher; img_miss = img * known

package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/deepfusion/dfnet/ml"
)

// ToTensor erzeugt die Netzwerk-Eingaben aus Bild und Maske
func ToTensor(ctx *ml.Context, img *Image, mask *Mask) (imgMiss, known *ml.Tensor, err error) {
	if img.Width != mask.Width || img.Height != mask.Height {
		return nil, nil, fmt.Errorf("%w: maske %dx%d passt nicht zu bild %dx%d", ml.ErrShape, mask.Width, mask.Height, img.Width, img.Height)
	}

	h, w := img.Height, img.Width
	size := h * w
	full := ml.Zeros(1, 3, h, w)
	known = ml.Zeros(1, 1, h, w)
	px, k := full.Floats(), known.Floats()

	for y := range h {
		row := img.RGBA.Pix[y*img.RGBA.Stride:]
		for x := range w {
			i := y*w + x
			if !mask.holes[i] {
				k[i] = 1
			}
			px[i] = float32(row[4*x]) / 255
			px[size+i] = float32(row[4*x+1]) / 255
			px[2*size+i] = float32(row[4*x+2]) / 255
		}
	}
	return ctx.Mul(full, known), known, nil
}

// FromTensor wandelt [1,3,H,W] oder [1,1,H,W] in [0,1] in ein deckendes RGBA-Bild
func FromTensor(t *ml.Tensor) (*image.RGBA, error) {
	if t.Dims() != 4 || t.Dim(0) != 1 || (t.Dim(1) != 3 && t.Dim(1) != 1) {
		return nil, fmt.Errorf("%w: erwartet [1,3,H,W] oder [1,1,H,W], erhalten %v", ml.ErrShape, t.Shape())
	}

	c, h, w := t.Dim(1), t.Dim(2), t.Dim(3)
	size := h * w
	data := t.Floats()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			i := y*w + x
			r := toByte(data[i])
			g, b := r, r
			if c == 3 {
				g, b = toByte(data[size+i]), toByte(data[2*size+i])
			}
			img.SetRGBA(x, y, color.RGBA{r, g, b, 0xFF})
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
}

// Merge uebernimmt original ausserhalb der Loecher und predicted innerhalb
func Merge(original, predicted *image.RGBA, mask *Mask) (*image.RGBA, error) {
	ob, pb := original.Bounds(), predicted.Bounds()
	if ob.Dx() != pb.Dx() || ob.Dy() != pb.Dy() || ob.Dx() != mask.Width || ob.Dy() != mask.Height {
		return nil, fmt.Errorf("%w: merge von %v, %v und maske %dx%d", ml.ErrShape, ob, pb, mask.Width, mask.Height)
	}

	out := image.NewRGBA(image.Rect(0, 0, ob.Dx(), ob.Dy()))
	for y := range mask.Height {
		for x := range mask.Width {
			src := original
			p := image.Pt(ob.Min.X+x, ob.Min.Y+y)
			if mask.Hole(x, y) {
				src, p = predicted, image.Pt(pb.Min.X+x, pb.Min.Y+y)
			}
			off := src.PixOffset(p.X, p.Y)
			copy(out.Pix[out.PixOffset(x, y):out.PixOffset(x, y)+4], src.Pix[off:off+4])
		}
	}
	return out, nil
}
