package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/deepfusion/dfnet/fs"
	"github.com/deepfusion/dfnet/ml"
)

// wrapperPrefixes werden nur entfernt wenn alle Tensornamen sie tragen
var wrapperPrefixes = []string{"state_dict.", "model.", "net."}

// NormalizeName entfernt DataParallel-Praefixe ("module.")
func NormalizeName(name string) string {
	for {
		trimmed, ok := strings.CutPrefix(name, "module.")
		if !ok {
			return name
		}
		name = trimmed
	}
}

// normalized bildet normalisierte Namen auf die Originalnamen der Quelle ab
type normalized struct {
	WeightSource
	names map[string]string
}

func normalize(src WeightSource) WeightSource {
	original := src.Names()
	names := make(map[string]string, len(original))
	for _, name := range original {
		names[NormalizeName(name)] = name
	}

	for _, prefix := range wrapperPrefixes {
		if len(names) == 0 {
			break
		}

		all := true
		for name := range names {
			if !strings.HasPrefix(name, prefix) {
				all = false
				break
			}
		}
		if all {
			stripped := make(map[string]string, len(names))
			for name, orig := range names {
				stripped[NormalizeName(strings.TrimPrefix(name, prefix))] = orig
			}
			names = stripped
		}
	}

	same := len(names) == len(original)
	for name, orig := range names {
		if name != orig {
			same = false
			break
		}
	}
	if same {
		return src
	}

	return &normalized{WeightSource: src, names: names}
}

func (n *normalized) Names() []string {
	return slices.Sorted(maps.Keys(n.names))
}

func (n *normalized) Get(name string) (*ml.Tensor, error) {
	orig, ok := n.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}
	return n.WeightSource.Get(orig)
}

func (n *normalized) Info(name string) (fs.TensorInfo, error) {
	orig, ok := n.names[name]
	if !ok {
		return fs.TensorInfo{}, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}
	info, err := n.WeightSource.Info(orig)
	info.Name = name
	return info, err
}

// MapSource ist eine WeightSource im Speicher
type MapSource struct {
	Tensors map[string]*ml.Tensor
	Meta    map[string]string
}

// NewMapSource erstellt eine leere MapSource
func NewMapSource() *MapSource {
	return &MapSource{Tensors: make(map[string]*ml.Tensor), Meta: make(map[string]string)}
}

// Set fuegt einen Tensor hinzu
func (m *MapSource) Set(name string, t *ml.Tensor) {
	m.Tensors[name] = t
}

func (m *MapSource) Names() []string {
	return slices.Sorted(maps.Keys(m.Tensors))
}

func (m *MapSource) Get(name string) (*ml.Tensor, error) {
	t, ok := m.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}
	return t, nil
}

func (m *MapSource) Info(name string) (fs.TensorInfo, error) {
	t, ok := m.Tensors[name]
	if !ok {
		return fs.TensorInfo{}, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}
	return fs.TensorInfo{Name: name, DType: "F32", Shape: t.Shape()}, nil
}

func (m *MapSource) Metadata() map[string]string {
	return m.Meta
}

func (m *MapSource) Close() error {
	return nil
}
