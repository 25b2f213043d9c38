// MODUL: formats
// ZWECK: Bildformat-Erkennung fuer Eingabebilder und Masken
// INPUT: Bild-Bytes, Dateiendung oder Format-String
// OUTPUT: Format, Fehler bei unbekanntem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: keine (nur Standardbibliothek)
// HINWEISE: Magic-Bytes-basierte Erkennung, unterstuetzt JPEG/PNG/WebP/GIF/BMP

package imageproc

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
)

// Format repraesentiert ein unterstuetztes Bildformat
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatUnknown Format = "unknown"
)

// Magic-Byte-Signaturen fuer Bildformate
var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicWebP = []byte("RIFF")
	magicGIF  = []byte("GIF8")
	magicBMP  = []byte("BM")
)

// ErrUnsupportedFormat wird bei unbekanntem oder nicht kodierbarem Format zurueckgegeben
var ErrUnsupportedFormat = errors.New("nicht unterstuetztes Bildformat")

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicWebP) && len(data) >= 12 && string(data[8:12]) == "WEBP":
		return FormatWebP
	case bytes.HasPrefix(data, magicGIF):
		return FormatGIF
	case bytes.HasPrefix(data, magicBMP) && len(data) >= 14:
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// FormatFromExtension bestimmt das Format aus einer Dateiendung oder einem Namen
func FormatFromExtension(name string) Format {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = "." + strings.ToLower(name)
	}

	switch ext {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	case ".gif":
		return FormatGIF
	case ".bmp":
		return FormatBMP
	default:
		return FormatUnknown
	}
}

// IsImageFile prueft anhand der Endung ob eine Datei ein Bild sein kann
func IsImageFile(name string) bool {
	return filepath.Ext(name) != "" && FormatFromExtension(name) != FormatUnknown
}

// Encodable prueft ob das Format geschrieben werden kann
func (f Format) Encodable() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatBMP:
		return true
	default:
		return false
	}
}

// MimeType gibt den MIME-Type fuer ein Format zurueck
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Extension gibt die Dateiendung fuer ein Format zurueck
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatUnknown:
		return ".bin"
	default:
		return "." + string(f)
	}
}

func (f Format) String() string {
	return string(f)
}
