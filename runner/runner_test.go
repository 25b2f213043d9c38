package runner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/deepfusion/dfnet/imageproc"
	"github.com/deepfusion/dfnet/ml"
	"github.com/deepfusion/dfnet/model"
)

// fakeModel fuellt Loecher mit einem konstanten Grauwert und zeichnet Eingabeformen auf
type fakeModel struct {
	multiple int
	fill     float32
	err      error

	mu     sync.Mutex
	shapes [][]int
}

func (f *fakeModel) Forward(ctx *ml.Context, imgMiss, known *ml.Tensor) (*model.Output, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	f.shapes = append(f.shapes, imgMiss.Shape())
	f.mu.Unlock()

	h, w := imgMiss.Dim(2), imgMiss.Dim(3)
	if h%f.multiple != 0 || w%f.multiple != 0 {
		return nil, errors.New("eingabe nicht teilbar")
	}

	alpha := known.Clone()
	for i, v := range alpha.Floats() {
		alpha.Floats()[i] = 1 - v
	}
	raw := ml.Full(f.fill, 1, 3, h, w)
	result := ctx.Blend(alpha, raw, imgMiss)

	return &model.Output{
		Results: []*ml.Tensor{result},
		Alphas:  []*ml.Tensor{alpha},
		Raws:    []*ml.Tensor{raw},
	}, nil
}

func (f *fakeModel) Multiple() int    { return f.multiple }
func (f *fakeModel) Config() any      { return nil }
func (f *fakeModel) Info() model.Info { return model.Info{Architecture: "fake"} }

// testImage erzeugt ein Bild mit Verlauf
func testImage(w, h int) *imageproc.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			rgba.SetRGBA(x, y, color.RGBA{uint8(x * 10), uint8(y * 20), uint8(x + y), 255})
		}
	}
	return imageproc.NewImage(rgba, imageproc.FormatPNG)
}

// testMask markiert das Rechteck [x0,x1) x [y0,y1) als Loch
func testMask(w, h, x0, y0, x1, y1 int) *imageproc.Mask {
	m := imageproc.NewMask(w, h)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.SetHole(x, y, true)
		}
	}
	return m
}

// maskImage zeichnet Loecher weiss
func maskImage(m *imageproc.Mask) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := range m.Height {
		for x := range m.Width {
			if m.Hole(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0xFF})
			}
		}
	}
	return img
}

func newRunner(t *testing.T, m model.Model, mutate func(*Options)) *Runner {
	t.Helper()
	opts := DefaultOptions()
	opts.Threads = 2
	if mutate != nil {
		mutate(&opts)
	}
	r, err := New(m, opts)
	require.NoError(t, err)
	return r
}

func TestInpaintNativeSize(t *testing.T) {
	for _, merge := range []bool{true, false} {
		fake := &fakeModel{multiple: 4, fill: 0.5}
		r := newRunner(t, fake, func(o *Options) { o.Merge = merge })

		img := testImage(10, 6)
		mask := testMask(10, 6, 2, 1, 5, 4)

		result, err := r.Inpaint(context.Background(), img, mask)
		require.NoError(t, err)

		if diff := cmp.Diff([][]int{{1, 3, 8, 12}}, fake.shapes); diff != "" {
			t.Errorf("Eingabe nicht auf Vielfaches aufgefuellt (-erwartet +erhalten):\n%s", diff)
		}
		if b := result.Image.Bounds(); b.Dx() != 10 || b.Dy() != 6 {
			t.Fatalf("Ausgabegroesse = %v, erwartet 10x6", b)
		}

		for y := range 6 {
			for x := range 10 {
				got := result.Image.RGBAAt(x, y)
				want := img.RGBA.RGBAAt(x, y)
				if mask.Hole(x, y) {
					want = color.RGBA{128, 128, 128, 255}
				}
				if got != want {
					t.Errorf("merge=%v (%d,%d) = %v, erwartet %v", merge, x, y, got, want)
				}
			}
		}

		if got := result.Alpha.RGBAAt(3, 2); got.R != 255 {
			t.Errorf("Alpha im Loch = %v, erwartet 255", got)
		}
		if got := result.Alpha.RGBAAt(0, 0); got.R != 0 {
			t.Errorf("Alpha ausserhalb = %v, erwartet 0", got)
		}
		if result.Metrics.Holes != 9 {
			t.Errorf("Holes = %d, erwartet 9", result.Metrics.Holes)
		}
	}
}

func TestInpaintResize(t *testing.T) {
	fake := &fakeModel{multiple: 4, fill: 0.25}
	r := newRunner(t, fake, func(o *Options) { o.Size = 8 })

	img := testImage(20, 10)
	mask := testMask(20, 10, 0, 0, 10, 10)

	result, err := r.Inpaint(context.Background(), img, mask)
	require.NoError(t, err)

	if diff := cmp.Diff([][]int{{1, 3, 8, 8}}, fake.shapes); diff != "" {
		t.Errorf("Eingabe nicht skaliert (-erwartet +erhalten):\n%s", diff)
	}
	if b := result.Image.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("Ausgabegroesse = %v, erwartet 20x10", b)
	}
	if b := result.Raw.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("Raw-Groesse = %v, erwartet 20x10", b)
	}

	// ausserhalb der Loecher bleibt das Original erhalten
	for y := range 10 {
		for x := 10; x < 20; x++ {
			if got, want := result.Image.RGBAAt(x, y), img.RGBA.RGBAAt(x, y); got != want {
				t.Errorf("(%d,%d) = %v, erwartet %v", x, y, got, want)
			}
		}
	}
}

func TestInpaintErrors(t *testing.T) {
	r := newRunner(t, &fakeModel{multiple: 2}, nil)
	img := testImage(4, 4)

	if _, err := r.Inpaint(context.Background(), img, imageproc.NewMask(4, 3)); !errors.Is(err, ErrMaskSize) {
		t.Errorf("erwartet ErrMaskSize, erhalten %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Inpaint(ctx, img, imageproc.NewMask(4, 4)); !errors.Is(err, context.Canceled) {
		t.Errorf("erwartet context.Canceled, erhalten %v", err)
	}

	boom := errors.New("boom")
	r = newRunner(t, &fakeModel{multiple: 2, err: boom}, nil)
	if _, err := r.Inpaint(context.Background(), img, imageproc.NewMask(4, 4)); !errors.Is(err, boom) {
		t.Errorf("erwartet Modellfehler, erhalten %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		ok     bool
	}{
		{"default", func(*Options) {}, true},
		{"jpeg", func(o *Options) { o.Format = "jpg" }, true},
		{"leeres format", func(o *Options) { o.Format = "" }, true},
		{"webp", func(o *Options) { o.Format = "webp" }, false},
		{"negative groesse", func(o *Options) { o.Size = -1 }, false},
		{"qualitaet", func(o *Options) { o.Quality = 101 }, false},
		{"parallel", func(o *Options) { o.Parallel = -2 }, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.ok && err != nil {
				t.Errorf("unerwarteter Fehler: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrBadOptions) {
				t.Errorf("erwartet ErrBadOptions, erhalten %v", err)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	pred := image.NewRGBA(image.Rect(0, 0, 2, 1))
	target := image.NewRGBA(image.Rect(0, 0, 2, 1))
	pred.SetRGBA(0, 0, color.RGBA{51, 51, 51, 255})
	// Pixel 1 weicht ab, ist aber bekannt und zaehlt nicht
	pred.SetRGBA(1, 0, color.RGBA{200, 0, 0, 255})

	mask := testMask(2, 1, 0, 0, 1, 1)

	m, err := Evaluate(pred, target, mask)
	require.NoError(t, err)
	if math.Abs(m.MaskedL1-0.1) > 1e-9 {
		t.Errorf("MaskedL1 = %v, erwartet 0.1", m.MaskedL1)
	}
	if want := 10 * math.Log10(1/0.04); math.Abs(m.PSNR-want) > 1e-9 {
		t.Errorf("PSNR = %v, erwartet %v", m.PSNR, want)
	}
	if m.Holes != 1 {
		t.Errorf("Holes = %d, erwartet 1", m.Holes)
	}

	if psnr := HolePSNR(target, target, mask); !math.IsInf(psnr, 1) {
		t.Errorf("PSNR identischer Bilder = %v, erwartet +Inf", psnr)
	}
	if _, err := Evaluate(pred, image.NewRGBA(image.Rect(0, 0, 3, 1)), mask); !errors.Is(err, ErrMaskSize) {
		t.Errorf("erwartet ErrMaskSize, erhalten %v", err)
	}
}

// writePairs schreibt n Bild/Masken-Paare und gibt die Paare zurueck
func writePairs(t *testing.T, dir string, n int) []imageproc.Pair {
	t.Helper()
	imgDir, maskDir := filepath.Join(dir, "images"), filepath.Join(dir, "masks")
	for i := range n {
		name := string(rune('a' + i))
		require.NoError(t, imageproc.Save(filepath.Join(imgDir, name+".png"), testImage(8, 8).RGBA, imageproc.SaveOptions{}))
		require.NoError(t, imageproc.Save(filepath.Join(maskDir, name+".png"), maskImage(testMask(8, 8, 2, 2, 6, 6)), imageproc.SaveOptions{}))
	}

	pairs, err := imageproc.Pairs(imgDir, maskDir)
	require.NoError(t, err)
	require.Len(t, pairs, n)
	return pairs
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	pairs := writePairs(t, dir, 3)
	out := filepath.Join(dir, "out")

	r := newRunner(t, &fakeModel{multiple: 4, fill: 0.5}, func(o *Options) {
		o.Parallel = 2
		o.SaveAlpha = true
		o.SaveRaw = true
		o.Format = "jpg"
	})

	var seen []int
	err := r.RunBatch(context.Background(), pairs, out, func(p Progress) {
		seen = append(seen, p.Done)
		if p.Total != 3 || len(p.Outputs) != 3 {
			t.Errorf("Fortschritt %+v unvollstaendig", p)
		}
	})
	require.NoError(t, err)

	if diff := cmp.Diff([]int{1, 2, 3}, seen); diff != "" {
		t.Errorf("Fortschritt (-erwartet +erhalten):\n%s", diff)
	}

	for _, name := range []string{"a.jpg", "a_alpha.png", "a_raw.png", "b.jpg", "c.jpg"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("Ausgabe %s fehlt: %v", name, err)
		}
	}
}

func TestRunBatchErrors(t *testing.T) {
	dir := t.TempDir()
	pairs := writePairs(t, dir, 2)
	r := newRunner(t, &fakeModel{multiple: 4, fill: 0.5}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.RunBatch(ctx, pairs, filepath.Join(dir, "out"), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("erwartet context.Canceled, erhalten %v", err)
	}

	missing := append(pairs, imageproc.Pair{Name: "x", ImagePath: filepath.Join(dir, "fehlt.png"), MaskPath: pairs[0].MaskPath})
	if err := r.RunBatch(context.Background(), missing, filepath.Join(dir, "out"), nil); err == nil {
		t.Error("erwartet Fehler bei fehlendem Bild")
	}
}

func TestProcessResizesMask(t *testing.T) {
	dir := t.TempDir()
	imgPath, maskPath := filepath.Join(dir, "i.png"), filepath.Join(dir, "m.png")
	require.NoError(t, imageproc.Save(imgPath, testImage(8, 8).RGBA, imageproc.SaveOptions{}))
	require.NoError(t, imageproc.Save(maskPath, maskImage(testMask(4, 4, 0, 0, 2, 2)), imageproc.SaveOptions{}))

	r := newRunner(t, &fakeModel{multiple: 4, fill: 0.5}, nil)
	result, outputs, err := r.Process(context.Background(), imageproc.Pair{Name: "i", ImagePath: imgPath, MaskPath: maskPath}, filepath.Join(dir, "out"))
	require.NoError(t, err)

	if result.Metrics.Holes != 16 {
		t.Errorf("Holes = %d, erwartet 16", result.Metrics.Holes)
	}
	if diff := cmp.Diff([]string{filepath.Join(dir, "out", "i.png")}, outputs); diff != "" {
		t.Errorf("Ausgaben (-erwartet +erhalten):\n%s", diff)
	}
}
