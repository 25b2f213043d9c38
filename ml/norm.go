// norm.go - Normalisierung im Inferenzmodus
// Hauptfunktionen: FoldBatchNorm, ScaleShift, InstanceNorm2D
package ml

import (
	"fmt"
	"math"
)

// FoldBatchNorm fasst laufende Statistik und affine Parameter zu scale/shift zusammen:
// y = x*scale + shift mit scale = w/sqrt(var+eps), shift = b - mean*scale.
// weight und bias duerfen nil sein (affine=False).
func FoldBatchNorm(mean, variance, weight, bias *Tensor, eps float32) (scale, shift []float32) {
	ch := mean.Len()
	if variance.Len() != ch || (weight != nil && weight.Len() != ch) || (bias != nil && bias.Len() != ch) {
		panic(fmt.Sprintf("ml: batch norm statistics disagree on channel count (%d)", ch))
	}

	scale = make([]float32, ch)
	shift = make([]float32, ch)
	for i := range ch {
		s := float32(1 / math.Sqrt(float64(variance.data[i]+eps)))
		if weight != nil {
			s *= weight.data[i]
		}
		b := float32(0)
		if bias != nil {
			b = bias.data[i]
		}
		scale[i] = s
		shift[i] = b - mean.data[i]*s
	}
	return scale, shift
}

// ScaleShift wendet y = x*scale[c] + shift[c] in place an
func (c *Context) ScaleShift(x *Tensor, scale, shift []float32) *Tensor {
	n, ch, h, w := x.nchw()
	if len(scale) != ch || len(shift) != ch {
		panic(fmt.Sprintf("ml: scale/shift of length %d for %d channels", len(scale), ch))
	}

	hw := h * w
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			s, t := scale[idx%ch], shift[idx%ch]
			plane := x.data[idx*hw : (idx+1)*hw]
			for i := range plane {
				plane[i] = plane[i]*s + t
			}
		}
	})
	return x
}

// InstanceNorm2D normalisiert jede (n, c)-Ebene auf Mittelwert 0 und Varianz 1 (in place)
func (c *Context) InstanceNorm2D(x *Tensor, eps float32) *Tensor {
	n, ch, h, w := x.nchw()
	hw := h * w
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			plane := x.data[idx*hw : (idx+1)*hw]

			var sum float64
			for _, v := range plane {
				sum += float64(v)
			}
			mean := sum / float64(hw)

			var sq float64
			for _, v := range plane {
				d := float64(v) - mean
				sq += d * d
			}
			inv := 1 / math.Sqrt(sq/float64(hw)+float64(eps))

			for i, v := range plane {
				plane[i] = float32((float64(v) - mean) * inv)
			}
		}
	})
	return x
}
