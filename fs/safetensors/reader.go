// reader.go - Safetensors-Datei lesen
//
// Dieses Modul enthaelt:
// - Open, Parse: Header pruefen und Tensor-Tabelle aufbauen
// - File: Zugriff auf Tensoren (Get, Info, Names) und Metadaten
//
// Layout: [8 Byte Header-Laenge LE][JSON-Header][Datenbereich]
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/fs"
	"github.com/deepfusion/dfnet/ml"
)

const (
	metadataKey   = "__metadata__"
	maxHeaderSize = 100 << 20
)

// ErrInvalidHeader wird bei defektem oder zu grossem Header zurueckgegeben
var ErrInvalidHeader = errors.New("safetensors: invalid header")

type tensorEntry struct {
	DType   DType    `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// File ist eine geoeffnete Safetensors-Datei
type File struct {
	raw    []byte
	body   []byte
	mapped bool

	tensors  map[string]tensorEntry
	names    []string
	metadata map[string]string
}

// Open oeffnet eine Datei; unter Unix per mmap, ausser DFNET_NOMMAP ist gesetzt
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if !envconfig.NoMmap() {
		raw, err := mmap(f, int(fi.Size()))
		if err == nil {
			st, err := parse(raw)
			if err != nil {
				munmap(raw)
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			st.mapped = true
			return st, nil
		}
		slog.Debug("mmap unavailable, reading checkpoint into memory", "path", path, "error", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	st, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

// Parse liest eine Safetensors-Datei aus einem Byte-Puffer
func Parse(raw []byte) (*File, error) {
	return parse(raw)
}

func parse(raw []byte) (*File, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrInvalidHeader, len(raw))
	}

	n := binary.LittleEndian.Uint64(raw[:8])
	if n > maxHeaderSize {
		return nil, fmt.Errorf("%w: header size %d exceeds limit", ErrInvalidHeader, n)
	}
	if 8+n > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: header size %d exceeds file size %d", ErrInvalidHeader, n, len(raw))
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+n], &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	st := &File{
		raw:     raw,
		body:    raw[8+n:],
		tensors: make(map[string]tensorEntry, len(header)),
	}

	for name, msg := range header {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &st.metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidHeader, err)
			}
			continue
		}

		var e tensorEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrInvalidHeader, name, err)
		}
		if err := st.check(name, e); err != nil {
			return nil, err
		}
		st.tensors[name] = e
		st.names = append(st.names, name)
	}

	slices.Sort(st.names)
	return st, nil
}

// check validiert Offsets und Groesse eines Eintrags gegen den Datenbereich
func (st *File) check(name string, e tensorEntry) error {
	begin, end := e.Offsets[0], e.Offsets[1]
	if begin < 0 || end < begin || end > int64(len(st.body)) {
		return fmt.Errorf("%w: tensor %s offsets [%d, %d] outside data section of %d bytes", ErrInvalidHeader, name, begin, end, len(st.body))
	}

	size := e.DType.Size()
	if size == 0 {
		// unbekannte Typen sind erlaubt, solange sie niemand liest
		return nil
	}

	info := fs.TensorInfo{Shape: e.Shape}
	if want := int64(info.Elements()) * int64(size); want != end-begin {
		return fmt.Errorf("%w: tensor %s %s%v needs %d bytes, has %d", ErrInvalidHeader, name, e.DType, e.Shape, want, end-begin)
	}
	return nil
}

// Names gibt alle Tensornamen sortiert zurueck
func (st *File) Names() []string {
	return slices.Clone(st.names)
}

// Metadata gibt den __metadata__-Block zurueck (kann nil sein)
func (st *File) Metadata() map[string]string {
	return st.metadata
}

// Info beschreibt einen Tensor ohne ihn zu dekodieren
func (st *File) Info(name string) (fs.TensorInfo, error) {
	e, ok := st.tensors[name]
	if !ok {
		return fs.TensorInfo{}, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}
	return fs.TensorInfo{Name: name, DType: string(e.DType), Shape: slices.Clone(e.Shape)}, nil
}

// Get dekodiert einen Tensor nach float32
func (st *File) Get(name string) (*ml.Tensor, error) {
	e, ok := st.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}

	values, err := decodeFloat32(e.DType, st.body[e.Offsets[0]:e.Offsets[1]])
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return ml.FromFloats(values, e.Shape...)
}

// Close gibt das Mapping frei
func (st *File) Close() error {
	if st.mapped && st.raw != nil {
		raw := st.raw
		st.raw, st.body = nil, nil
		return munmap(raw)
	}
	st.raw, st.body = nil, nil
	return nil
}
