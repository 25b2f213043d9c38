// MODUL: imageproc_test
// ZWECK: Tests fuer Bild-/Masken-Laden, Tensor-Konvertierung, Merge und Speichern
// INPUT: Synthetische Bilder und PNG-Bytes
// OUTPUT: Testresultate
// NEBENEFFEKTE: temporaere Dateien
// ABHAENGIGKEITEN: testing, testify, go-cmp
// HINWEISE: Pairs-Tests liegen in pairs_test.go

package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/deepfusion/dfnet/ml"
)

// createPNGBytes erzeugt PNG-Bytes aus einem einfarbigen Testbild
func createPNGBytes(w, h int, c color.Color) []byte {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			rgba.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, rgba)
	return buf.Bytes()
}

// halfMask: linke Haelfte schwarz, rechte Haelfte weiss
func halfMask(w, h int) []byte {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := w / 2; x < w; x++ {
			g.SetGray(x, y, color.Gray{Y: 200})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, g)
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, image.NewRGBA(image.Rect(0, 0, 2, 2))))

	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"png", createPNGBytes(2, 2, color.White), FormatPNG},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"riff ohne webp", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), FormatUnknown},
		{"gif", []byte("GIF89a\x01\x00"), FormatGIF},
		{"bmp", bmpBuf.Bytes(), FormatBMP},
		{"leer", nil, FormatUnknown},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.data); got != tt.want {
				t.Errorf("DetectFormat() = %v, erwartet %v", got, tt.want)
			}
		})
	}
}

func TestFormatFromExtension(t *testing.T) {
	cases := map[string]Format{
		"a.PNG":  FormatPNG,
		"b.jpeg": FormatJPEG,
		"c.jpg":  FormatJPEG,
		"d.webp": FormatWebP,
		"e.txt":  FormatUnknown,
		"png":    FormatPNG,
		"jpg":    FormatJPEG,
	}
	for name, want := range cases {
		if got := FormatFromExtension(name); got != want {
			t.Errorf("FormatFromExtension(%q) = %v, erwartet %v", name, got, want)
		}
	}

	if IsImageFile("png") {
		t.Error("Name ohne Endung sollte kein Bild sein")
	}
}

func TestLoadImageFromBytes(t *testing.T) {
	img, err := LoadImageFromBytes(createPNGBytes(100, 50, color.RGBA{255, 0, 0, 255}))
	require.NoError(t, err)

	if img.Width != 100 || img.Height != 50 {
		t.Errorf("Groesse = %dx%d, erwartet 100x50", img.Width, img.Height)
	}
	if img.Format != FormatPNG {
		t.Errorf("Format = %v, erwartet %v", img.Format, FormatPNG)
	}

	if _, err := LoadImageFromBytes([]byte{0, 0, 0, 0}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("erwartet ErrUnsupportedFormat, erhalten %v", err)
	}

	if _, err := DecodeImage(bytes.NewReader(createPNGBytes(3, 3, color.Black))); err != nil {
		t.Errorf("DecodeImage() error = %v", err)
	}
}

func TestLoadImageTransparent(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := range 2 {
		for x := range 2 {
			src.SetNRGBA(x, y, color.NRGBA{200, 100, 50, 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := LoadImageFromBytes(buf.Bytes())
	require.NoError(t, err)

	want := []uint8{200, 100, 50, 255, 200, 100, 50, 255, 200, 100, 50, 255, 200, 100, 50, 255}
	if diff := cmp.Diff(want, img.RGBA.Pix); diff != "" {
		t.Errorf("Pix unterscheidet sich (-erwartet +erhalten):\n%s", diff)
	}

	// ausserhalb der Loecher bleiben die unvormultiplizierten Farben erhalten
	mask := NewMask(2, 2)
	mask.SetHole(0, 0, true)
	out, err := Merge(img.RGBA, image.NewRGBA(image.Rect(0, 0, 2, 2)), mask)
	require.NoError(t, err)
	if got := out.RGBAAt(1, 1); got != (color.RGBA{200, 100, 50, 255}) {
		t.Errorf("erwartet {200 100 50 255}, erhalten %v", got)
	}
	if got := out.RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Errorf("erwartet vorhergesagtes Pixel, erhalten %v", got)
	}
}

func TestImageResize(t *testing.T) {
	img, err := LoadImageFromBytes(createPNGBytes(40, 20, color.RGBA{10, 200, 30, 255}))
	require.NoError(t, err)

	resized, err := img.Resize(16, 16)
	require.NoError(t, err)
	if resized.Width != 16 || resized.Height != 16 {
		t.Errorf("Groesse = %dx%d, erwartet 16x16", resized.Width, resized.Height)
	}
	// einfarbige Flaeche bleibt einfarbig
	if got := resized.RGBA.RGBAAt(8, 8); got != (color.RGBA{10, 200, 30, 255}) {
		t.Errorf("Farbe = %v nach Resize", got)
	}

	if same, _ := img.Resize(40, 20); same != img {
		t.Error("Resize auf gleiche Groesse sollte das Bild unveraendert zurueckgeben")
	}
	if _, err := img.Resize(0, 5); err == nil {
		t.Error("erwartet Fehler bei Groesse 0")
	}
}

func TestDecodeMask(t *testing.T) {
	data := halfMask(4, 2)

	m, err := DecodeMask(data, false)
	require.NoError(t, err)
	if m.Hole(0, 0) || m.Hole(1, 1) || !m.Hole(2, 0) || !m.Hole(3, 1) {
		t.Errorf("weiss sollte Loch sein: %v", m.holes)
	}
	if m.Holes() != 4 {
		t.Errorf("erwartet 4 Loecher, erhalten %d", m.Holes())
	}

	inv, err := DecodeMask(data, true)
	require.NoError(t, err)
	if !inv.Hole(0, 0) || inv.Hole(3, 1) {
		t.Errorf("invertierte Maske falsch: %v", inv.holes)
	}
}

func TestMaskResize(t *testing.T) {
	m := NewMask(2, 2)
	m.SetHole(1, 0, true)

	r := m.Resize(4, 4)
	want := []bool{
		false, false, true, true,
		false, false, true, true,
		false, false, false, false,
		false, false, false, false,
	}
	if diff := cmp.Diff(want, r.holes); diff != "" {
		t.Errorf("Resize falsch (-erwartet +erhalten):\n%s", diff)
	}

	back := r.Resize(2, 2)
	if diff := cmp.Diff(m.holes, back.holes); diff != "" {
		t.Errorf("Verkleinern falsch (-erwartet +erhalten):\n%s", diff)
	}
}

func TestToTensor(t *testing.T) {
	img := NewImage(image.NewRGBA(image.Rect(0, 0, 2, 1)), FormatPNG)
	img.RGBA.SetRGBA(0, 0, color.RGBA{255, 0, 51, 255})
	img.RGBA.SetRGBA(1, 0, color.RGBA{255, 255, 255, 255})

	mask := NewMask(2, 1)
	mask.SetHole(1, 0, true)

	imgMiss, known, err := ToTensor(ml.NewContext(1), img, mask)
	require.NoError(t, err)

	if diff := cmp.Diff([]float32{1, 0, 0, 0, 0.2, 0}, imgMiss.Floats()); diff != "" {
		t.Errorf("img_miss falsch (-erwartet +erhalten):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{1, 0}, known.Floats()); diff != "" {
		t.Errorf("known falsch (-erwartet +erhalten):\n%s", diff)
	}

	if _, _, err := ToTensor(ml.NewContext(1), img, NewMask(3, 1)); !errors.Is(err, ml.ErrShape) {
		t.Errorf("erwartet ErrShape, erhalten %v", err)
	}
}

func TestFromTensor(t *testing.T) {
	rgb, err := ml.FromFloats([]float32{-0.5, 1, 0.5, 0.2, 0, 1.7}, 1, 3, 1, 2)
	require.NoError(t, err)

	img, err := FromTensor(rgb)
	require.NoError(t, err)
	if got := img.RGBAAt(0, 0); got != (color.RGBA{0, 128, 0, 255}) {
		t.Errorf("Pixel 0 = %v", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{255, 51, 255, 255}) {
		t.Errorf("Pixel 1 = %v", got)
	}

	gray, err := ml.FromFloats([]float32{0.5}, 1, 1, 1, 1)
	require.NoError(t, err)
	g, err := FromTensor(gray)
	require.NoError(t, err)
	if got := g.RGBAAt(0, 0); got != (color.RGBA{128, 128, 128, 255}) {
		t.Errorf("Graustufe = %v", got)
	}

	if _, err := FromTensor(ml.Zeros(1, 2, 1, 1)); !errors.Is(err, ml.ErrShape) {
		t.Errorf("erwartet ErrShape, erhalten %v", err)
	}
}

func TestMerge(t *testing.T) {
	original := image.NewRGBA(image.Rect(0, 0, 3, 2))
	predicted := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range original.Pix {
		original.Pix[i] = uint8(i)
		predicted.Pix[i] = 0xEE
	}

	mask := NewMask(3, 2)
	mask.SetHole(1, 1, true)

	out, err := Merge(original, predicted, mask)
	require.NoError(t, err)

	for y := range 2 {
		for x := range 3 {
			want := original.RGBAAt(x, y)
			if mask.Hole(x, y) {
				want = predicted.RGBAAt(x, y)
			}
			if got := out.RGBAAt(x, y); got != want {
				t.Errorf("(%d,%d) = %v, erwartet %v", x, y, got, want)
			}
		}
	}

	if _, err := Merge(original, image.NewRGBA(image.Rect(0, 0, 2, 2)), mask); err == nil {
		t.Error("erwartet Fehler bei unterschiedlichen Groessen")
	}
}

func TestSave(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	dir := t.TempDir()

	for _, name := range []string{"a.png", "sub/b.jpg", "c.jpeg", "d.bmp"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, img, SaveOptions{Quality: 80}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		if got, want := DetectFormat(data), FormatFromExtension(name); got != want {
			t.Errorf("%s: Format %v, erwartet %v", name, got, want)
		}
	}

	if err := Save(filepath.Join(dir, "e.webp"), img, SaveOptions{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("erwartet ErrUnsupportedFormat, erhalten %v", err)
	}
}
