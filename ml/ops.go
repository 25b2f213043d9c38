// ops.go - Elementweise Operatoren und Kanal-Konkatenation
//
// Dieses Modul enthaelt:
// - Aktivierungen (in place): ReLU, ELU, LeakyReLU, Tanh, Sigmoid
// - Add, Mul, Blend
// - Concat entlang der Kanalachse
package ml

import (
	"fmt"
	"math"
)

// apply wendet fn elementweise in place an
func (c *Context) apply(x *Tensor, fn func(float32) float32) *Tensor {
	c.parallel(len(x.data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x.data[i] = fn(x.data[i])
		}
	})
	return x
}

// ReLU: max(0, x)
func (c *Context) ReLU(x *Tensor) *Tensor {
	return c.apply(x, func(v float32) float32 {
		return max(v, 0)
	})
}

// ELU mit alpha = 1
func (c *Context) ELU(x *Tensor) *Tensor {
	return c.apply(x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return float32(math.Expm1(float64(v)))
	})
}

// LeakyReLU mit negativer Steigung slope
func (c *Context) LeakyReLU(x *Tensor, slope float32) *Tensor {
	return c.apply(x, func(v float32) float32 {
		if v >= 0 {
			return v
		}
		return v * slope
	})
}

// Tanh elementweise
func (c *Context) Tanh(x *Tensor) *Tensor {
	return c.apply(x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

// Sigmoid elementweise
func (c *Context) Sigmoid(x *Tensor) *Tensor {
	return c.apply(x, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

// Add addiert b in place auf a (gleiche Form)
func (c *Context) Add(a, b *Tensor) *Tensor {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("ml: add %v + %v", a.shape, b.shape))
	}
	c.parallel(len(a.data), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			a.data[i] += b.data[i]
		}
	})
	return a
}

// Mul multipliziert x [N,C,H,W] mit m [N,1,H,W] oder [N,C,H,W] in ein neues Ergebnis
func (c *Context) Mul(x, m *Tensor) *Tensor {
	n, ch, h, w := x.nchw()
	mn, mc, mh, mw := m.nchw()
	if mn != n || mh != h || mw != w || (mc != 1 && mc != ch) {
		panic(fmt.Sprintf("ml: mul %v * %v", x.shape, m.shape))
	}

	out := Zeros(n, ch, h, w)
	hw := h * w
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			b, k := idx/ch, idx%ch
			mk := 0
			if mc != 1 {
				mk = k
			}
			src := x.data[idx*hw : (idx+1)*hw]
			mp := m.data[(b*mc+mk)*hw : (b*mc+mk+1)*hw]
			dst := out.data[idx*hw : (idx+1)*hw]
			for i := range dst {
				dst[i] = src[i] * mp[i]
			}
		}
	})
	return out
}

// Blend berechnet alpha*a + (1-alpha)*b. alpha hat 1 oder C Kanaele.
func (c *Context) Blend(alpha, a, b *Tensor) *Tensor {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("ml: blend %v with %v", a.shape, b.shape))
	}
	n, ch, h, w := a.nchw()
	an, ac, ah, aw := alpha.nchw()
	if an != n || ah != h || aw != w || (ac != 1 && ac != ch) {
		panic(fmt.Sprintf("ml: blend alpha %v does not broadcast to %v", alpha.shape, a.shape))
	}

	out := Zeros(n, ch, h, w)
	hw := h * w
	c.parallel(n*ch, func(lo, hi int) {
		for idx := lo; idx < hi; idx++ {
			bi, k := idx/ch, idx%ch
			ak := 0
			if ac != 1 {
				ak = k
			}
			al := alpha.data[(bi*ac+ak)*hw : (bi*ac+ak+1)*hw]
			pa := a.data[idx*hw : (idx+1)*hw]
			pb := b.data[idx*hw : (idx+1)*hw]
			dst := out.data[idx*hw : (idx+1)*hw]
			for i := range dst {
				dst[i] = al[i]*pa[i] + (1-al[i])*pb[i]
			}
		}
	})
	return out
}

// Concat verbindet 4D-Tensoren entlang der Kanalachse
func (c *Context) Concat(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("ml: concat of zero tensors")
	}

	n, _, h, w := ts[0].nchw()
	total := 0
	for _, t := range ts {
		tn, tc, th, tw := t.nchw()
		if tn != n || th != h || tw != w {
			panic(fmt.Sprintf("ml: concat %v with %v", ts[0].shape, t.shape))
		}
		total += tc
	}

	out := Zeros(n, total, h, w)
	hw := h * w
	for b := range n {
		off := b * total * hw
		for _, t := range ts {
			tc := t.shape[1]
			copy(out.data[off:off+tc*hw], t.data[b*tc*hw:(b+1)*tc*hw])
			off += tc * hw
		}
	}
	return out
}
