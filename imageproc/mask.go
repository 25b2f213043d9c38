// MODUL: mask
// ZWECK: Binaere Lochmasken laden und skalieren
// INPUT: Masken-Datei oder Bytes, Invertierungs-Flag
// OUTPUT: Mask mit einem Bit pro Pixel (Loch / bekannt)
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadMask
// ABHAENGIGKEITEN: image/color
// HINWEISE: Standard: weiss (Luma > 127) markiert ein fehlendes Pixel

package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"os"
)

// maskThreshold trennt Loch und bekannten Bereich (Luma 0..255)
const maskThreshold = 127

// Mask markiert fehlende Pixel
type Mask struct {
	Width  int
	Height int
	holes  []bool
}

// NewMask erstellt eine leere Maske (alle Pixel bekannt)
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, holes: make([]bool, width*height)}
}

// LoadMask laedt eine Maske von einem Dateipfad
func LoadMask(path string, invert bool) (*Mask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datei lesen fehlgeschlagen: %w", err)
	}

	m, err := DecodeMask(data, invert)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// DecodeMask dekodiert eine Maske; invert tauscht die Bedeutung von schwarz und weiss
func DecodeMask(data []byte, invert bool) (*Mask, error) {
	img, err := LoadImageFromBytes(data)
	if err != nil {
		return nil, err
	}
	return MaskFromImage(img.RGBA, invert), nil
}

// MaskFromImage schwellt ein Bild ueber seine Luma
func MaskFromImage(img image.Image, invert bool) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := range m.Height {
		for x := range m.Width {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.holes[y*m.Width+x] = (g.Y > maskThreshold) != invert
		}
	}
	return m
}

// Hole prueft ob (x, y) fehlt
func (m *Mask) Hole(x, y int) bool {
	return m.holes[y*m.Width+x]
}

// SetHole markiert (x, y)
func (m *Mask) SetHole(x, y int, hole bool) {
	m.holes[y*m.Width+x] = hole
}

// Holes zaehlt die fehlenden Pixel
func (m *Mask) Holes() int {
	var n int
	for _, h := range m.holes {
		if h {
			n++
		}
	}
	return n
}

// Resize skaliert per Nearest-Neighbour, die Maske bleibt binaer
func (m *Mask) Resize(width, height int) *Mask {
	if width == m.Width && height == m.Height {
		return m
	}

	out := NewMask(width, height)
	for y := range height {
		sy := min(y*m.Height/height, m.Height-1)
		for x := range width {
			sx := min(x*m.Width/width, m.Width-1)
			out.holes[y*width+x] = m.holes[sy*m.Width+sx]
		}
	}
	return out
}
