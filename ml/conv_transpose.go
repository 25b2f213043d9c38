package ml

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ConvTranspose2DParams beschreibt eine transponierte Faltung (groups=1)
type ConvTranspose2DParams struct {
	Stride        int
	Padding       int
	OutputPadding int
}

// ConvTransposeOutputSize berechnet die Ausgabegroesse einer Achse
func ConvTransposeOutputSize(in, kernel, stride, padding, outputPadding int) int {
	return (in-1)*stride - 2*padding + kernel + outputPadding
}

// ConvTranspose2D berechnet x [N, Cin, H, W] mit weight [Cin, Cout, KH, KW].
// Pro Batch-Element: cols = W^T * X (Gemm), danach col2im mit Akkumulation.
func (c *Context) ConvTranspose2D(x, weight, bias *Tensor, p ConvTranspose2DParams) *Tensor {
	if p.Stride <= 0 {
		p.Stride = 1
	}

	n, cin, h, w := x.nchw()
	if weight.Dims() != 4 || weight.shape[0] != cin {
		panic(fmt.Sprintf("ml: conv_transpose2d input %v incompatible with weight %v", x.shape, weight.shape))
	}
	cout, kh, kw := weight.shape[1], weight.shape[2], weight.shape[3]
	if bias != nil && bias.Len() != cout {
		panic(fmt.Sprintf("ml: conv_transpose2d bias %v does not match %d output channels", bias.shape, cout))
	}

	hOut := ConvTransposeOutputSize(h, kh, p.Stride, p.Padding, p.OutputPadding)
	wOut := ConvTransposeOutputSize(w, kw, p.Stride, p.Padding, p.OutputPadding)
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("ml: conv_transpose2d output would be empty for input %v", x.shape))
	}

	out := Zeros(n, cout, hOut, wOut)
	hw := h * w
	rows := cout * kh * kw
	cols := make([]float32, rows*hw)

	a := blas32.General{Rows: cin, Cols: rows, Stride: rows, Data: weight.data}
	for b := range n {
		src := blas32.General{Rows: cin, Cols: hw, Stride: hw, Data: x.data[b*cin*hw : (b+1)*cin*hw]}
		dst := blas32.General{Rows: rows, Cols: hw, Stride: hw, Data: cols}
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, a, src, 0, dst)

		plane := out.data[b*cout*hOut*wOut : (b+1)*cout*hOut*wOut]
		// jeder Worker besitzt eigene Ausgabekanaele, daher keine Kollisionen
		c.parallel(cout, func(lo, hi int) {
			for oc := lo; oc < hi; oc++ {
				outPlane := plane[oc*hOut*wOut : (oc+1)*hOut*wOut]
				for ky := range kh {
					for kx := range kw {
						r := (oc*kh+ky)*kw + kx
						row := cols[r*hw : (r+1)*hw]
						for iy := range h {
							oy := iy*p.Stride - p.Padding + ky
							if oy < 0 || oy >= hOut {
								continue
							}
							for ix := range w {
								ox := ix*p.Stride - p.Padding + kx
								if ox < 0 || ox >= wOut {
									continue
								}
								outPlane[oy*wOut+ox] += row[iy*w+ix]
							}
						}
					}
				}
			}
		})
	}

	if bias != nil {
		c.addChannelBias(out, bias.data)
	}

	return out
}
