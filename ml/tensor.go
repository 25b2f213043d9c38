// tensor.go - Dichter float32-Tensor fuer den Forward-Pass
//
// Dieses Modul enthaelt:
// - Tensor: Shape + zusammenhaengender Datenpuffer (row-major, NCHW fuer Bilder)
// - Konstruktoren: Zeros, FromFloats, Full
// - Shape-Hilfen: Dim, Len, Reshape, Clone
package ml

import (
	"errors"
	"fmt"
	"slices"
)

// ErrShape wird bei inkompatiblen Tensor-Formen zurueckgegeben
var ErrShape = errors.New("ml: shape mismatch")

// Tensor haelt float32-Werte in row-major Reihenfolge
type Tensor struct {
	shape []int
	data  []float32
}

// Zeros erstellt einen mit Nullen gefuellten Tensor
func Zeros(shape ...int) *Tensor {
	return &Tensor{shape: slices.Clone(shape), data: make([]float32, numel(shape))}
}

// Full erstellt einen Tensor mit konstantem Wert
func Full(v float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// FromFloats wrappt einen vorhandenen Puffer ohne Kopie
func FromFloats(data []float32, shape ...int) (*Tensor, error) {
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v (%d)", ErrShape, len(data), shape, n)
	}
	return &Tensor{shape: slices.Clone(shape), data: data}, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Shape gibt eine Kopie der Form zurueck
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Dim gibt die Groesse der Achse i zurueck, negative Indizes zaehlen von hinten
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// Dims gibt die Anzahl der Achsen zurueck
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Len gibt die Anzahl der Elemente zurueck
func (t *Tensor) Len() int {
	return len(t.data)
}

// Floats gibt den zugrundeliegenden Puffer zurueck (keine Kopie)
func (t *Tensor) Floats() []float32 {
	return t.data
}

// Clone erstellt eine tiefe Kopie
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Reshape gibt eine neue Sicht auf denselben Puffer zurueck
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numel(shape) != len(t.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.shape, shape)
	}
	return &Tensor{shape: slices.Clone(shape), data: t.data}, nil
}

// SameShape prueft ob zwei Tensoren dieselbe Form haben
func SameShape(a, b *Tensor) bool {
	return slices.Equal(a.shape, b.shape)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

// nchw zerlegt einen 4D-Tensor in seine Achsen
func (t *Tensor) nchw() (n, c, h, w int) {
	if len(t.shape) != 4 {
		panic(fmt.Sprintf("ml: expected 4D [N,C,H,W] tensor, got %v", t.shape))
	}
	return t.shape[0], t.shape[1], t.shape[2], t.shape[3]
}
