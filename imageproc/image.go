// MODUL: image
// ZWECK: Bilder laden, nach RGBA konvertieren und skalieren
// INPUT: Dateipfad, Bytes oder io.Reader
// OUTPUT: Image Struktur mit dekodiertem Bild
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadImage
// ABHAENGIGKEITEN: golang.org/x/image (draw, webp, bmp), image/jpeg, image/png, image/gif
// HINWEISE: Alle Bilder werden als deckendes RGBA mit Ursprung (0,0) gespeichert

package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	// Standard-Decoder registrieren
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Image enthaelt ein dekodiertes Bild mit Metadaten
type Image struct {
	RGBA   *image.RGBA
	Width  int
	Height int
	Format Format
}

// LoadImage laedt ein Bild von einem Dateipfad
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datei lesen fehlgeschlagen: %w", err)
	}

	img, err := LoadImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageFromBytes dekodiert ein Bild aus Byte-Daten
func LoadImageFromBytes(data []byte) (*Image, error) {
	format := DetectFormat(data)
	if format == FormatUnknown {
		return nil, ErrUnsupportedFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bild dekodieren fehlgeschlagen: %w", err)
	}

	return NewImage(img, format), nil
}

// DecodeSize liest nur den Header und gibt Breite und Hoehe zurueck
func DecodeSize(data []byte) (width, height int, err error) {
	if DetectFormat(data) == FormatUnknown {
		return 0, 0, ErrUnsupportedFormat
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("bild-header lesen fehlgeschlagen: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// DecodeImage dekodiert ein Bild aus einem io.Reader
func DecodeImage(r io.Reader) (*Image, error) {
	// Erst Daten puffern fuer Format-Erkennung
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("daten lesen fehlgeschlagen: %w", err)
	}
	return LoadImageFromBytes(data)
}

// NewImage wrappt ein beliebiges image.Image
func NewImage(img image.Image, format Format) *Image {
	rgba := toRGBA(img)
	return &Image{
		RGBA:   rgba,
		Width:  rgba.Bounds().Dx(),
		Height: rgba.Bounds().Dy(),
		Format: format,
	}
}

// toRGBA konvertiert zu *image.RGBA mit Ursprung (0,0).
// Bilder mit Transparenz gelten als deckend: die Farbkanaele bleiben
// unvormultipliziert, Alpha wird 255.
func toRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())

	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		if rgba, ok := img.(*image.RGBA); ok && bounds.Min == (image.Point{}) {
			return rgba
		}
		rgba := image.NewRGBA(rect)
		draw.Draw(rgba, rect, img, bounds.Min, draw.Src)
		return rgba
	}

	nrgba := image.NewNRGBA(rect)
	draw.Draw(nrgba, rect, img, bounds.Min, draw.Src)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		nrgba.Pix[i] = 0xFF
	}
	return &image.RGBA{Pix: nrgba.Pix, Stride: nrgba.Stride, Rect: rect}
}

// Resize skaliert mit Catmull-Rom auf die angegebene Groesse
func (img *Image) Resize(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ungueltige Groesse: %dx%d", width, height)
	}
	if width == img.Width && height == img.Height {
		return img, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img.RGBA, img.RGBA.Bounds(), draw.Src, nil)

	return &Image{
		RGBA:   dst,
		Width:  width,
		Height: height,
		Format: img.Format,
	}, nil
}
