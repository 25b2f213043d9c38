// Package fs - Gemeinsame Typen fuer Checkpoint-Container
// Beinhaltet: TensorInfo, ErrTensorNotFound
package fs

import (
	"errors"
	"fmt"
)

// ErrTensorNotFound wird zurueckgegeben wenn ein Tensor im Checkpoint fehlt
var ErrTensorNotFound = errors.New("tensor not found")

// TensorInfo beschreibt einen Tensor ohne seine Daten zu laden
type TensorInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Elements gibt die Anzahl der Elemente zurueck
func (t TensorInfo) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= uint64(d)
	}
	return n
}

func (t TensorInfo) String() string {
	return fmt.Sprintf("%s %s%v", t.Name, t.DType, t.Shape)
}
