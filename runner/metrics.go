// metrics.go - Qualitaetsmasse im Lochbereich
//
// Enthaelt:
// - MaskedL1: mittlerer absoluter Fehler, nur Lochpixel tragen bei
// - HolePSNR: PSNR ueber die Lochpixel
// - Evaluate: beides plus Anzahl der Loecher

package runner

import (
	"fmt"
	"image"
	"math"

	"github.com/deepfusion/dfnet/imageproc"
)

// Metrics vergleicht eine Vorhersage mit dem Eingabebild
type Metrics struct {
	MaskedL1 float64
	PSNR     float64
	Holes    int
}

// holeDiffs ruft fn fuer jeden RGB-Kanal eines Lochpixels mit der Differenz in [0,1] auf
func holeDiffs(pred, target *image.RGBA, mask *imageproc.Mask, fn func(d float64)) {
	pb, tb := pred.Bounds().Min, target.Bounds().Min
	for y := range mask.Height {
		for x := range mask.Width {
			if !mask.Hole(x, y) {
				continue
			}
			po := pred.PixOffset(pb.X+x, pb.Y+y)
			to := target.PixOffset(tb.X+x, tb.Y+y)
			for c := range 3 {
				fn(float64(int(pred.Pix[po+c])-int(target.Pix[to+c])) / 255)
			}
		}
	}
}

// MaskedL1 berechnet mean(|pred - target| * mask) ueber alle Elemente.
// pred, target und mask muessen gleich gross sein.
func MaskedL1(pred, target *image.RGBA, mask *imageproc.Mask) float64 {
	n := 3 * mask.Width * mask.Height
	if n == 0 {
		return 0
	}

	var sum float64
	holeDiffs(pred, target, mask, func(d float64) {
		sum += math.Abs(d)
	})
	return sum / float64(n)
}

// HolePSNR berechnet den PSNR in dB ueber die Lochpixel; +Inf ohne Fehler oder ohne Loecher
func HolePSNR(pred, target *image.RGBA, mask *imageproc.Mask) float64 {
	var sum float64
	var n int
	holeDiffs(pred, target, mask, func(d float64) {
		sum += d * d
		n++
	})

	if n == 0 || sum == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(float64(n)/sum)
}

// Evaluate berechnet alle Masse nach einer Groessenpruefung
func Evaluate(pred, target *image.RGBA, mask *imageproc.Mask) (Metrics, error) {
	pb, tb := pred.Bounds(), target.Bounds()
	if pb.Dx() != tb.Dx() || pb.Dy() != tb.Dy() || pb.Dx() != mask.Width || pb.Dy() != mask.Height {
		return Metrics{}, fmt.Errorf("%w: %v, %v, mask %dx%d", ErrMaskSize, pb, tb, mask.Width, mask.Height)
	}

	return Metrics{
		MaskedL1: MaskedL1(pred, target, mask),
		PSNR:     HolePSNR(pred, target, mask),
		Holes:    mask.Holes(),
	}, nil
}
