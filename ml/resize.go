// resize.go - Raeumliche Skalierung, Padding und Zuschnitt
//
// Dieses Modul enthaelt:
// - UpsampleNearest: ganzzahliges Hochskalieren (scale_factor)
// - ResizeBilinear: Zielgroesse wie F.interpolate (align_corners=False)
// - PadReplicate, Crop: Rand auffuellen und wieder entfernen
package ml

import (
	"fmt"
	"math"
)

// UpsampleNearest vergroessert H und W um einen ganzzahligen Faktor
func (c *Context) UpsampleNearest(x *Tensor, scale int) *Tensor {
	n, ch, h, w := x.nchw()
	hOut, wOut := h*scale, w*scale
	out := Zeros(n, ch, hOut, wOut)

	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			src := x.data[idx*h*w : (idx+1)*h*w]
			dst := out.data[idx*hOut*wOut : (idx+1)*hOut*wOut]
			for oy := range hOut {
				row := src[(oy/scale)*w : (oy/scale+1)*w]
				for ox := range wOut {
					dst[oy*wOut+ox] = row[ox/scale]
				}
			}
		}
	})
	return out
}

// bilinearTaps berechnet Quellindizes und Gewichte einer Achse (align_corners=False)
func bilinearTaps(in, out int) (i0, i1 []int, l1 []float32) {
	scale := float32(in) / float32(out)
	i0 = make([]int, out)
	i1 = make([]int, out)
	l1 = make([]float32, out)
	for o := range out {
		src := max((float32(o)+0.5)*scale-0.5, 0)
		lo := min(int(math.Floor(float64(src))), in-1)
		i0[o] = lo
		i1[o] = min(lo+1, in-1)
		l1[o] = src - float32(lo)
	}
	return i0, i1, l1
}

// ResizeBilinear skaliert bilinear auf hOut x wOut
func (c *Context) ResizeBilinear(x *Tensor, hOut, wOut int) *Tensor {
	n, ch, h, w := x.nchw()
	if hOut == h && wOut == w {
		return x.Clone()
	}

	y0, y1, ly := bilinearTaps(h, hOut)
	x0, x1, lx := bilinearTaps(w, wOut)

	out := Zeros(n, ch, hOut, wOut)
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			src := x.data[idx*h*w : (idx+1)*h*w]
			dst := out.data[idx*hOut*wOut : (idx+1)*hOut*wOut]
			for oy := range hOut {
				r0 := src[y0[oy]*w : (y0[oy]+1)*w]
				r1 := src[y1[oy]*w : (y1[oy]+1)*w]
				wy := ly[oy]
				for ox := range wOut {
					wx := lx[ox]
					top := r0[x0[ox]]*(1-wx) + r0[x1[ox]]*wx
					bottom := r1[x0[ox]]*(1-wx) + r1[x1[ox]]*wx
					dst[oy*wOut+ox] = top*(1-wy) + bottom*wy
				}
			}
		}
	})
	return out
}

// PadReplicate erweitert unten und rechts, indem die letzte Zeile/Spalte wiederholt wird
func (c *Context) PadReplicate(x *Tensor, bottom, right int) *Tensor {
	if bottom < 0 || right < 0 {
		panic(fmt.Sprintf("ml: negative padding %d/%d", bottom, right))
	}
	n, ch, h, w := x.nchw()
	if bottom == 0 && right == 0 {
		return x.Clone()
	}

	hOut, wOut := h+bottom, w+right
	out := Zeros(n, ch, hOut, wOut)
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			src := x.data[idx*h*w : (idx+1)*h*w]
			dst := out.data[idx*hOut*wOut : (idx+1)*hOut*wOut]
			for oy := range hOut {
				row := src[min(oy, h-1)*w : (min(oy, h-1)+1)*w]
				drow := dst[oy*wOut : (oy+1)*wOut]
				copy(drow, row)
				last := row[w-1]
				for ox := w; ox < wOut; ox++ {
					drow[ox] = last
				}
			}
		}
	})
	return out
}

// Crop schneidet das Rechteck [top, top+h) x [left, left+w) aus
func (c *Context) Crop(x *Tensor, top, left, hOut, wOut int) *Tensor {
	n, ch, h, w := x.nchw()
	if top < 0 || left < 0 || top+hOut > h || left+wOut > w {
		panic(fmt.Sprintf("ml: crop %dx%d+%d+%d outside %v", wOut, hOut, left, top, x.shape))
	}

	out := Zeros(n, ch, hOut, wOut)
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			src := x.data[idx*h*w : (idx+1)*h*w]
			dst := out.data[idx*hOut*wOut : (idx+1)*hOut*wOut]
			for oy := range hOut {
				copy(dst[oy*wOut:(oy+1)*wOut], src[(top+oy)*w+left:(top+oy)*w+left+wOut])
			}
		}
	})
	return out
}
