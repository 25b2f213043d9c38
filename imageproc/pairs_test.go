package imageproc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// touch legt leere Dateien an; Pairs liest nur Namen
func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
}

func names(pairs []Pair) [][2]string {
	var out [][2]string
	for _, p := range pairs {
		out = append(out, [2]string{filepath.Base(p.ImagePath), filepath.Base(p.MaskPath)})
	}
	return out
}

func TestPairs(t *testing.T) {
	cases := []struct {
		name   string
		images []string
		masks  []string
		want   [][2]string
	}{
		{
			name:   "gleicher stamm",
			images: []string{"b.png", "a.jpg"},
			masks:  []string{"a.png", "b.png"},
			want:   [][2]string{{"a.jpg", "a.png"}, {"b.png", "b.png"}},
		},
		{
			name:   "suffix",
			images: []string{"cat.png", "dog.png"},
			masks:  []string{"cat_mask.png", "dog-mask.png"},
			want:   [][2]string{{"cat.png", "cat_mask.png"}, {"dog.png", "dog-mask.png"}},
		},
		{
			name:   "exakter stamm gewinnt",
			images: []string{"x.png"},
			masks:  []string{"x_mask.png", "x.png"},
			want:   [][2]string{{"x.png", "x.png"}},
		},
		{
			name:   "sortierte reihenfolge",
			images: []string{"img1.png", "img2.png"},
			masks:  []string{"m_a.png", "m_b.png"},
			want:   [][2]string{{"img1.png", "m_a.png"}, {"img2.png", "m_b.png"}},
		},
		{
			name:   "andere dateien ignoriert",
			images: []string{"a.png", "notes.txt", ".hidden.png"},
			masks:  []string{"a.png", "README"},
			want:   [][2]string{{"a.png", "a.png"}},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			imgDir, maskDir := filepath.Join(dir, "img"), filepath.Join(dir, "mask")
			touch(t, imgDir, tt.images...)
			touch(t, maskDir, tt.masks...)

			pairs, err := Pairs(imgDir, maskDir)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, names(pairs)); diff != "" {
				t.Errorf("Zuordnung falsch (-erwartet +erhalten):\n%s", diff)
			}
		})
	}
}

func TestPairsUnpaired(t *testing.T) {
	dir := t.TempDir()
	imgDir, maskDir := filepath.Join(dir, "img"), filepath.Join(dir, "mask")
	touch(t, imgDir, "alpha.png", "bravo.png", "zzz.png")
	touch(t, maskDir, "alpha.png", "bravo_m.png")

	_, err := Pairs(imgDir, maskDir)
	if !errors.Is(err, ErrUnpaired) {
		t.Fatalf("erwartet ErrUnpaired, erhalten %v", err)
	}
	if !strings.Contains(err.Error(), "meinten Sie bravo_m?") {
		t.Errorf("erwartet Hinweis auf bravo_m, erhalten %v", err)
	}
	if !strings.Contains(err.Error(), "zzz") {
		t.Errorf("erwartet zzz in Fehler, erhalten %v", err)
	}
}

func TestPairsSingleFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "in.png", "in_mask.png")

	pairs, err := Pairs(filepath.Join(dir, "in.png"), filepath.Join(dir, "in_mask.png"))
	require.NoError(t, err)
	if len(pairs) != 1 || pairs[0].Name != "in" {
		t.Errorf("erwartet ein Paar 'in', erhalten %+v", pairs)
	}

	if _, err := Pairs(filepath.Join(dir, "in.png"), dir); err == nil {
		t.Error("erwartet Fehler bei Datei und Verzeichnis")
	}
}

func TestPairsEmpty(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "img"), "a.txt")
	touch(t, filepath.Join(dir, "mask"))

	if _, err := Pairs(filepath.Join(dir, "img"), filepath.Join(dir, "mask")); !errors.Is(err, ErrNoPairs) {
		t.Errorf("erwartet ErrNoPairs, erhalten %v", err)
	}
	if _, err := Pairs(filepath.Join(dir, "fehlt"), filepath.Join(dir, "mask")); err == nil {
		t.Error("erwartet Fehler bei fehlendem Verzeichnis")
	}
}

func TestPairsSameStem(t *testing.T) {
	dir := t.TempDir()
	imgDir, maskDir := filepath.Join(dir, "img"), filepath.Join(dir, "mask")
	touch(t, imgDir, "a.png", "a.jpg", "b.png")
	touch(t, maskDir, "a.png", "b.png")

	pairs, err := Pairs(imgDir, maskDir)
	require.NoError(t, err)

	var got []string
	for _, p := range pairs {
		got = append(got, p.Name)
	}
	if diff := cmp.Diff([]string{"a_jpg", "a_png", "b"}, got); diff != "" {
		t.Errorf("Namen falsch (-erwartet +erhalten):\n%s", diff)
	}
	if diff := cmp.Diff([][2]string{{"a.jpg", "a.png"}, {"a.png", "a.png"}, {"b.png", "b.png"}}, names(pairs)); diff != "" {
		t.Errorf("Zuordnung falsch (-erwartet +erhalten):\n%s", diff)
	}
}

func TestPairsNameCollision(t *testing.T) {
	dir := t.TempDir()
	imgDir, maskDir := filepath.Join(dir, "img"), filepath.Join(dir, "mask")
	// a.png und a.jpg werden zu a_png und a_jpg, a_png.bmp heisst bereits a_png
	touch(t, imgDir, "a.png", "a.jpg", "a_png.bmp")
	touch(t, maskDir, "a.png", "a_png.png")

	_, err := Pairs(imgDir, maskDir)
	if !errors.Is(err, ErrDupName) {
		t.Fatalf("erwartet ErrDupName, erhalten %v", err)
	}
	if !strings.Contains(err.Error(), "a_png") {
		t.Errorf("Fehler nennt den Namen nicht: %v", err)
	}
}
