// conv.go - 2D-Faltung (dicht, gruppiert, depthwise) im NCHW-Layout
//
// Dieses Modul enthaelt:
// - Conv2D: Dispatch auf Pointwise-, Depthwise- oder Im2col-Pfad
// - im2col: Patches einer Gruppe in eine Spaltenmatrix umformen
//
// Die Matrixmultiplikation uebernimmt gonum (blas32.Gemm).
package ml

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2DParams beschreibt Stride, Padding und Gruppen einer Faltung
type Conv2DParams struct {
	Stride  int
	Padding int
	Groups  int
}

func (p Conv2DParams) normalized() Conv2DParams {
	if p.Stride <= 0 {
		p.Stride = 1
	}
	if p.Groups <= 0 {
		p.Groups = 1
	}
	return p
}

// ConvOutputSize berechnet die Ausgabegroesse einer Achse
func ConvOutputSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// Conv2D faltet x [N, Cin, H, W] mit weight [Cout, Cin/groups, KH, KW].
// bias ist optional ([Cout] oder nil).
func (c *Context) Conv2D(x, weight, bias *Tensor, p Conv2DParams) *Tensor {
	p = p.normalized()

	n, cin, h, w := x.nchw()
	if weight.Dims() != 4 {
		panic(fmt.Sprintf("ml: conv2d weight must be 4D, got %v", weight.shape))
	}
	cout, cinG, kh, kw := weight.shape[0], weight.shape[1], weight.shape[2], weight.shape[3]

	if cin%p.Groups != 0 || cout%p.Groups != 0 || cin/p.Groups != cinG {
		panic(fmt.Sprintf("ml: conv2d input %v incompatible with weight %v (groups=%d)", x.shape, weight.shape, p.Groups))
	}
	if bias != nil && bias.Len() != cout {
		panic(fmt.Sprintf("ml: conv2d bias %v does not match %d output channels", bias.shape, cout))
	}

	hOut := ConvOutputSize(h, kh, p.Stride, p.Padding)
	wOut := ConvOutputSize(w, kw, p.Stride, p.Padding)
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("ml: conv2d output would be empty for input %v and kernel %dx%d", x.shape, kh, kw))
	}

	out := Zeros(n, cout, hOut, wOut)

	switch {
	case p.Groups == cin && cinG == 1:
		c.depthwise(out, x, weight, p)
	case kh == 1 && kw == 1 && p.Stride == 1 && p.Padding == 0 && p.Groups == 1:
		c.pointwise(out, x, weight)
	default:
		c.im2colConv(out, x, weight, p)
	}

	if bias != nil {
		c.addChannelBias(out, bias.data)
	}

	return out
}

// pointwise: 1x1-Faltung ist eine reine Matrixmultiplikation pro Batch-Element
func (c *Context) pointwise(out, x, weight *Tensor) {
	n, cin, h, w := x.nchw()
	cout := weight.shape[0]
	hw := h * w

	a := blas32.General{Rows: cout, Cols: cin, Stride: cin, Data: weight.data}
	for b := range n {
		src := blas32.General{Rows: cin, Cols: hw, Stride: hw, Data: x.data[b*cin*hw : (b+1)*cin*hw]}
		dst := blas32.General{Rows: cout, Cols: hw, Stride: hw, Data: out.data[b*cout*hw : (b+1)*cout*hw]}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, src, 0, dst)
	}
}

// depthwise: jede Ausgabe-Ebene liest genau eine Eingabe-Ebene
func (c *Context) depthwise(out, x, weight *Tensor, p Conv2DParams) {
	n, cin, h, w := x.nchw()
	_, cout, hOut, wOut := out.nchw()
	kh, kw := weight.shape[2], weight.shape[3]
	multiplier := cout / cin

	c.parallel(n*cout, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			b, oc := idx/cout, idx%cout
			ic := oc / multiplier

			src := x.data[(b*cin+ic)*h*w : (b*cin+ic+1)*h*w]
			dst := out.data[idx*hOut*wOut : (idx+1)*hOut*wOut]
			k := weight.data[oc*kh*kw : (oc+1)*kh*kw]

			for oy := range hOut {
				iy0 := oy*p.Stride - p.Padding
				for ox := range wOut {
					ix0 := ox*p.Stride - p.Padding
					var sum float32
					for ky := range kh {
						iy := iy0 + ky
						if iy < 0 || iy >= h {
							continue
						}
						row := src[iy*w : (iy+1)*w]
						krow := k[ky*kw : (ky+1)*kw]
						for kx := range kw {
							ix := ix0 + kx
							if ix < 0 || ix >= w {
								continue
							}
							sum += row[ix] * krow[kx]
						}
					}
					dst[oy*wOut+ox] = sum
				}
			}
		}
	})
}

// im2colConv: allgemeiner Pfad fuer beliebige Kernel, Strides und Gruppen
func (c *Context) im2colConv(out, x, weight *Tensor, p Conv2DParams) {
	n, cin, h, w := x.nchw()
	_, cout, hOut, wOut := out.nchw()
	kh, kw := weight.shape[2], weight.shape[3]

	cinG := cin / p.Groups
	coutG := cout / p.Groups
	cols := cinG * kh * kw
	hwOut := hOut * wOut

	buf := make([]float32, cols*hwOut)
	for b := range n {
		for g := range p.Groups {
			src := x.data[(b*cin+g*cinG)*h*w : (b*cin+(g+1)*cinG)*h*w]
			c.im2col(buf, src, cinG, h, w, kh, kw, hOut, wOut, p.Stride, p.Padding)

			a := blas32.General{Rows: coutG, Cols: cols, Stride: cols, Data: weight.data[g*coutG*cols : (g+1)*coutG*cols]}
			col := blas32.General{Rows: cols, Cols: hwOut, Stride: hwOut, Data: buf}
			dstOff := (b*cout + g*coutG) * hwOut
			dst := blas32.General{Rows: coutG, Cols: hwOut, Stride: hwOut, Data: out.data[dstOff : dstOff+coutG*hwOut]}
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, col, 0, dst)
		}
	}
}

// im2col schreibt [C*KH*KW, HOut*WOut]; Zeilen ausserhalb des Bildes bleiben 0
func (c *Context) im2col(buf, src []float32, channels, h, w, kh, kw, hOut, wOut, stride, padding int) {
	hwOut := hOut * wOut
	c.parallel(channels*kh*kw, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			ch := r / (kh * kw)
			ky := (r / kw) % kh
			kx := r % kw

			plane := src[ch*h*w : (ch+1)*h*w]
			row := buf[r*hwOut : (r+1)*hwOut]
			for oy := range hOut {
				iy := oy*stride - padding + ky
				dst := row[oy*wOut : (oy+1)*wOut]
				if iy < 0 || iy >= h {
					clear(dst)
					continue
				}
				for ox := range wOut {
					ix := ox*stride - padding + kx
					if ix < 0 || ix >= w {
						dst[ox] = 0
						continue
					}
					dst[ox] = plane[iy*w+ix]
				}
			}
		}
	})
}

// addChannelBias addiert einen Bias pro Kanal
func (c *Context) addChannelBias(t *Tensor, bias []float32) {
	n, ch, h, w := t.nchw()
	hw := h * w
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			v := bias[idx%ch]
			plane := t.data[idx*hw : (idx+1)*hw]
			for i := range plane {
				plane[i] += v
			}
		}
	})
}
