// MODUL: save
// ZWECK: Ergebnisbilder kodieren und schreiben
// INPUT: image.Image, Zielpfad oder io.Writer, Format, Qualitaet
// OUTPUT: PNG/JPEG/BMP-Daten
// NEBENEFFEKTE: Legt Elternverzeichnisse an, schreibt Dateien
// ABHAENGIGKEITEN: image/png, image/jpeg, golang.org/x/image/bmp
// HINWEISE: Format folgt der Dateiendung; WebP und GIF werden nur gelesen

package imageproc

import (
	"cmp"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
)

// DefaultQuality ist die JPEG-Qualitaet wenn keine angegeben ist
const DefaultQuality = 95

// SaveOptions steuert die Kodierung
type SaveOptions struct {
	Quality int
}

// Encode kodiert img im angegebenen Format
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: min(max(cmp.Or(quality, DefaultQuality), 1), 100)})
	case FormatBMP:
		return bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: %s kann nicht geschrieben werden", ErrUnsupportedFormat, format)
	}
}

// Save schreibt img nach path; das Format folgt der Endung
func Save(path string, img image.Image, opts SaveOptions) error {
	format := FormatFromExtension(path)
	if !format.Encodable() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Encode(f, img, format, opts.Quality); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
