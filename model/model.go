// Package model - Checkpoint-Quellen, Modell-Registry und Initialisierung
//
// Dieses Paket verbindet Checkpoint-Dateien mit Netzwerk-Architekturen.
//
// Hauptkomponenten:
// - WeightSource: Interface fuer benannte Tensoren (Safetensors, PyTorch)
// - Open: Waehlt den Reader anhand der Dateiendung
// - Model: Interface fuer alle Architekturen
// - Register, New: Konstruktoren registrieren und Modelle laden
package model

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepfusion/dfnet/convert"
	"github.com/deepfusion/dfnet/fs"
	"github.com/deepfusion/dfnet/fs/safetensors"
	"github.com/deepfusion/dfnet/ml"
)

// Fehler-Definitionen
var (
	ErrUnknownCheckpoint = errors.New("unknown checkpoint format")
	ErrUnsupportedModel  = errors.New("model not supported")
)

const (
	// ArchitectureKey ist der Metadaten-Schluessel fuer die Architektur
	ArchitectureKey = "dfnet.architecture"
	// DefaultArchitecture gilt fuer Checkpoints ohne Metadaten (z.B. .pth)
	DefaultArchitecture = "resnet_dfnet"
)

// WeightSource liefert benannte Tensoren eines Checkpoints
type WeightSource interface {
	Names() []string
	Get(name string) (*ml.Tensor, error)
	Info(name string) (fs.TensorInfo, error)
	Metadata() map[string]string
	Close() error
}

// Output enthaelt die Ergebnisse aller Fusions-Ebenen, feinste zuerst
type Output struct {
	Results []*ml.Tensor
	Alphas  []*ml.Tensor
	Raws    []*ml.Tensor
}

// Model definiert das Interface fuer Inpainting-Architekturen
type Model interface {
	// Forward erwartet img_miss [N,3,H,W] und known [N,1,H,W]
	Forward(ctx *ml.Context, imgMiss, known *ml.Tensor) (*Output, error)

	// Multiple ist der Teiler, den H und W erfuellen muessen
	Multiple() int

	// Config gibt die aufgeloeste Konfiguration zurueck (JSON-serialisierbar)
	Config() any

	Info() Info
}

// Validator ist ein optionales Interface fuer Post-Load-Validierung
type Validator interface {
	Validate() error
}

// Info beschreibt ein geladenes Modell
type Info struct {
	Architecture string        `json:"architecture"`
	Path         string        `json:"path"`
	Params       uint64        `json:"parameters"`
	Tensors      int           `json:"tensors"`
	LoadDuration time.Duration `json:"load_duration"`
}

// Base implementiert gemeinsame Felder fuer alle Modelle und wird beim Laden gesetzt
type Base struct {
	info Info
}

// Info gibt die Lade-Informationen zurueck
func (m *Base) Info() Info {
	return m.info
}

// models speichert registrierte Modell-Konstruktoren
var models = make(map[string]func(WeightSource) (Model, error))

// Register registriert einen Modell-Konstruktor fuer eine Architektur
func Register(name string, f func(WeightSource) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// Open oeffnet einen Checkpoint anhand der Dateiendung
func Open(path string) (WeightSource, error) {
	var src WeightSource
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		st, err := safetensors.Open(path)
		if err != nil {
			return nil, err
		}
		src = st
	case ".pth", ".pt", ".ckpt", ".bin":
		c, err := convert.LoadTorch(path)
		if err != nil {
			return nil, err
		}
		src = c
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCheckpoint, path)
	}

	return normalize(src), nil
}

// New laedt einen Checkpoint und baut das passende Modell
func New(path string) (Model, error) {
	start := time.Now()

	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	arch := cmp.Or(src.Metadata()[ArchitectureKey], DefaultArchitecture)
	f, ok := models[arch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, arch)
	}

	m, err := f(src)
	if err != nil {
		return nil, err
	}

	l := loader{src: src}
	l.load(m, "")
	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}

	info := Info{
		Architecture: arch,
		Path:         path,
		Params:       l.params,
		Tensors:      l.found,
		LoadDuration: time.Since(start),
	}
	setBase(m, Base{info: info})

	slog.Info("model loaded", "architecture", arch, "path", path, "tensors", info.Tensors, "parameters", info.Params, "duration", info.LoadDuration)
	return m, nil
}
