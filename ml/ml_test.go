package ml

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-4)

func randTensor(r *rand.Rand, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = r.Float32()*2 - 1
	}
	return t
}

// naiveConv2D ist die direkte Definition der Faltung als Referenz
func naiveConv2D(x, weight, bias *Tensor, p Conv2DParams) *Tensor {
	p = p.normalized()
	n, cin, h, w := x.nchw()
	cout, cinG, kh, kw := weight.shape[0], weight.shape[1], weight.shape[2], weight.shape[3]
	coutG := cout / p.Groups
	hOut := ConvOutputSize(h, kh, p.Stride, p.Padding)
	wOut := ConvOutputSize(w, kw, p.Stride, p.Padding)

	out := Zeros(n, cout, hOut, wOut)
	for b := range n {
		for oc := range cout {
			g := oc / coutG
			for oy := range hOut {
				for ox := range wOut {
					var sum float32
					if bias != nil {
						sum = bias.data[oc]
					}
					for ic := range cinG {
						for ky := range kh {
							for kx := range kw {
								iy := oy*p.Stride - p.Padding + ky
								ix := ox*p.Stride - p.Padding + kx
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								sum += x.data[((b*cin+g*cinG+ic)*h+iy)*w+ix] * weight.data[((oc*cinG+ic)*kh+ky)*kw+kx]
							}
						}
					}
					out.data[((b*cout+oc)*hOut+oy)*wOut+ox] = sum
				}
			}
		}
	}
	return out
}

func TestConv2DMatchesReference(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	ctx := NewContext(4)

	cases := []struct {
		name    string
		x       []int
		w       []int
		params  Conv2DParams
		hasBias bool
	}{
		{"3x3 stride 1 pad 1", []int{2, 4, 7, 6}, []int{5, 4, 3, 3}, Conv2DParams{Stride: 1, Padding: 1}, true},
		{"3x3 stride 2 pad 1", []int{1, 4, 8, 8}, []int{6, 4, 3, 3}, Conv2DParams{Stride: 2, Padding: 1}, false},
		{"1x1 stride 2", []int{1, 3, 9, 9}, []int{2, 3, 1, 1}, Conv2DParams{Stride: 2}, false},
		{"pointwise", []int{2, 6, 5, 4}, []int{3, 6, 1, 1}, Conv2DParams{}, true},
		{"depthwise", []int{2, 5, 6, 6}, []int{5, 1, 3, 3}, Conv2DParams{Padding: 1, Groups: 5}, true},
		{"depthwise multiplier", []int{1, 2, 5, 5}, []int{4, 1, 3, 3}, Conv2DParams{Padding: 1, Groups: 2}, false},
		{"grouped", []int{1, 4, 6, 6}, []int{6, 2, 3, 3}, Conv2DParams{Padding: 1, Groups: 2}, true},
		{"even kernel", []int{1, 2, 6, 6}, []int{2, 2, 4, 4}, Conv2DParams{Padding: 2}, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			x := randTensor(r, tt.x...)
			w := randTensor(r, tt.w...)
			var b *Tensor
			if tt.hasBias {
				b = randTensor(r, tt.w[0])
			}

			got := ctx.Conv2D(x, w, b, tt.params)
			want := naiveConv2D(x, w, b, tt.params)

			require.Equal(t, want.Shape(), got.Shape())
			if diff := cmp.Diff(want.Floats(), got.Floats(), approx); diff != "" {
				t.Errorf("Conv2D weicht ab (-erwartet +bekommen):\n%s", diff)
			}
		})
	}
}

func TestConv2DSingleThreadEqualsParallel(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	x := randTensor(r, 1, 8, 16, 16)
	w := randTensor(r, 8, 1, 3, 3)

	a := NewContext(1).Conv2D(x, w, nil, Conv2DParams{Padding: 1, Groups: 8})
	b := NewContext(8).Conv2D(x, w, nil, Conv2DParams{Padding: 1, Groups: 8})

	if diff := cmp.Diff(a.Floats(), b.Floats()); diff != "" {
		t.Errorf("Ergebnis haengt von Thread-Anzahl ab:\n%s", diff)
	}
}

func TestConvTranspose2D(t *testing.T) {
	ctx := NewContext(2)

	x, err := FromFloats([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	require.NoError(t, err)
	w := Full(1, 1, 1, 2, 2)

	out := ctx.ConvTranspose2D(x, w, nil, ConvTranspose2DParams{Stride: 2})
	require.Equal(t, []int{1, 1, 4, 4}, out.Shape())

	want := []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if diff := cmp.Diff(want, out.Floats()); diff != "" {
		t.Errorf("ConvTranspose2D (-erwartet +bekommen):\n%s", diff)
	}
}

func TestConvTranspose2DOverlapAndPadding(t *testing.T) {
	ctx := NewContext(1)

	x, err := FromFloats([]float32{1, 2, 3}, 1, 1, 1, 3)
	require.NoError(t, err)
	w, err := FromFloats([]float32{1, 10, 100}, 1, 1, 1, 3)
	require.NoError(t, err)
	b, err := FromFloats([]float32{0.5}, 1)
	require.NoError(t, err)

	// stride 1, padding 0: volle Korrelation
	out := ctx.ConvTranspose2D(x, w, b, ConvTranspose2DParams{Stride: 1})
	require.Equal(t, []int{1, 1, 1, 5}, out.Shape())
	want := []float32{1.5, 12.5, 123.5, 230.5, 300.5}
	if diff := cmp.Diff(want, out.Floats(), approx); diff != "" {
		t.Errorf("ConvTranspose2D (-erwartet +bekommen):\n%s", diff)
	}

	// padding 1 schneidet an beiden Raendern eine Spalte ab
	out = ctx.ConvTranspose2D(x, w, nil, ConvTranspose2DParams{Stride: 1, Padding: 1, OutputPadding: 0})
	require.Equal(t, []int{1, 1, 1, 3}, out.Shape())
	if diff := cmp.Diff([]float32{12, 123, 230}, out.Floats(), approx); diff != "" {
		t.Errorf("ConvTranspose2D mit Padding (-erwartet +bekommen):\n%s", diff)
	}
}

func TestFoldBatchNorm(t *testing.T) {
	ctx := NewContext(1)

	mean, _ := FromFloats([]float32{1, -2}, 2)
	variance, _ := FromFloats([]float32{4, 0.25}, 2)
	weight, _ := FromFloats([]float32{2, 1}, 2)
	bias, _ := FromFloats([]float32{0.5, 0}, 2)

	scale, shift := FoldBatchNorm(mean, variance, weight, bias, 0)
	x, _ := FromFloats([]float32{3, 5, -2, 0}, 1, 2, 1, 2)
	ctx.ScaleShift(x, scale, shift)

	// Kanal 0: (x-1)/2*2+0.5, Kanal 1: (x+2)/0.5
	want := []float32{2.5, 4.5, 0, 4}
	if diff := cmp.Diff(want, x.Floats(), approx); diff != "" {
		t.Errorf("BatchNorm (-erwartet +bekommen):\n%s", diff)
	}
}

func TestInstanceNorm2D(t *testing.T) {
	ctx := NewContext(2)
	x, _ := FromFloats([]float32{1, 2, 3, 4, 10, 10, 10, 10}, 1, 2, 2, 2)

	ctx.InstanceNorm2D(x, 0)

	// Kanal 0: mean 2.5, std sqrt(1.25)
	s := float32(1.118034)
	want := []float32{-1.5 / s, -0.5 / s, 0.5 / s, 1.5 / s}
	if diff := cmp.Diff(want, x.Floats()[:4], approx); diff != "" {
		t.Errorf("InstanceNorm (-erwartet +bekommen):\n%s", diff)
	}
}

func TestActivations(t *testing.T) {
	ctx := NewContext(1)
	in := []float32{-2, -0.5, 0, 1.5}

	cases := map[string]struct {
		fn   func(*Tensor) *Tensor
		want []float32
	}{
		"relu":       {ctx.ReLU, []float32{0, 0, 0, 1.5}},
		"leaky_relu": {func(x *Tensor) *Tensor { return ctx.LeakyReLU(x, 0.2) }, []float32{-0.4, -0.1, 0, 1.5}},
		"elu":        {ctx.ELU, []float32{-0.8646647, -0.39346933, 0, 1.5}},
		"tanh":       {ctx.Tanh, []float32{-0.9640276, -0.46211717, 0, 0.9051482}},
		"sigmoid":    {ctx.Sigmoid, []float32{0.11920292, 0.37754068, 0.5, 0.8175745}},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			x, _ := FromFloats(append([]float32(nil), in...), 1, 1, 1, 4)
			if diff := cmp.Diff(tt.want, tt.fn(x).Floats(), approx); diff != "" {
				t.Errorf("%s (-erwartet +bekommen):\n%s", name, diff)
			}
		})
	}
}

func TestConcatBlendMul(t *testing.T) {
	ctx := NewContext(2)

	a, _ := FromFloats([]float32{1, 2, 3, 4}, 1, 1, 2, 2)
	b, _ := FromFloats([]float32{5, 6, 7, 8, 9, 10, 11, 12}, 1, 2, 2, 2)

	cat := ctx.Concat(a, b)
	require.Equal(t, []int{1, 3, 2, 2}, cat.Shape())
	if diff := cmp.Diff([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, cat.Floats()); diff != "" {
		t.Errorf("Concat (-erwartet +bekommen):\n%s", diff)
	}

	alpha, _ := FromFloats([]float32{1, 0, 0.5, 0.25}, 1, 1, 2, 2)
	blend := ctx.Blend(alpha, b, Zeros(1, 2, 2, 2))
	want := []float32{5, 0, 3.5, 2, 9, 0, 5.5, 3}
	if diff := cmp.Diff(want, blend.Floats(), approx); diff != "" {
		t.Errorf("Blend (-erwartet +bekommen):\n%s", diff)
	}

	masked := ctx.Mul(b, alpha)
	want = []float32{5, 0, 3.5, 2, 9, 0, 5.5, 3}
	if diff := cmp.Diff(want, masked.Floats(), approx); diff != "" {
		t.Errorf("Mul (-erwartet +bekommen):\n%s", diff)
	}
}

func TestResizeBilinearMatchesInterpolate(t *testing.T) {
	ctx := NewContext(1)
	x, _ := FromFloats([]float32{1, 2, 3, 4}, 1, 1, 2, 2)

	out := ctx.ResizeBilinear(x, 4, 4)
	// F.interpolate(x, size=(4, 4), mode="bilinear", align_corners=False)
	want := []float32{
		1, 1.25, 1.75, 2,
		1.5, 1.75, 2.25, 2.5,
		2.5, 2.75, 3.25, 3.5,
		3, 3.25, 3.75, 4,
	}
	if diff := cmp.Diff(want, out.Floats(), approx); diff != "" {
		t.Errorf("ResizeBilinear (-erwartet +bekommen):\n%s", diff)
	}

	down := ctx.ResizeBilinear(out, 2, 2)
	require.Equal(t, []int{1, 1, 2, 2}, down.Shape())
}

func TestUpsampleNearest(t *testing.T) {
	ctx := NewContext(1)
	x, _ := FromFloats([]float32{1, 2, 3, 4}, 1, 1, 2, 2)

	up := ctx.UpsampleNearest(x, 2)
	want := []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if diff := cmp.Diff(want, up.Floats()); diff != "" {
		t.Errorf("UpsampleNearest (-erwartet +bekommen):\n%s", diff)
	}
}

func TestPadReplicateCrop(t *testing.T) {
	ctx := NewContext(1)
	x, _ := FromFloats([]float32{1, 2, 3, 4, 5, 6}, 1, 1, 2, 3)

	padded := ctx.PadReplicate(x, 1, 2)
	require.Equal(t, []int{1, 1, 3, 5}, padded.Shape())
	want := []float32{
		1, 2, 3, 3, 3,
		4, 5, 6, 6, 6,
		4, 5, 6, 6, 6,
	}
	if diff := cmp.Diff(want, padded.Floats()); diff != "" {
		t.Errorf("PadReplicate (-erwartet +bekommen):\n%s", diff)
	}

	cropped := ctx.Crop(padded, 0, 0, 2, 3)
	if diff := cmp.Diff(x.Floats(), cropped.Floats()); diff != "" {
		t.Errorf("Crop (-erwartet +bekommen):\n%s", diff)
	}
}

func TestFromFloatsShapeMismatch(t *testing.T) {
	_, err := FromFloats([]float32{1, 2, 3}, 2, 2)
	require.ErrorIs(t, err, ErrShape)

	x := Zeros(2, 3)
	_, err = x.Reshape(4, 2)
	require.ErrorIs(t, err, ErrShape)

	y, err := x.Reshape(3, 2)
	require.NoError(t, err)
	require.Equal(t, 2, y.Dim(-1))
}
