// torch.go - PyTorch-Checkpoints (.pth/.pt/.ckpt) ueber gopickle lesen
//
// Dieses Modul enthaelt:
// - LoadTorch: Pickle laden und State-Dict finden
// - Checkpoint: Tensoren als float32 bereitstellen
// - materialize: Storage + Offset + Strides in einen dichten Puffer kopieren
package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/deepfusion/dfnet/fs"
	"github.com/deepfusion/dfnet/ml"
)

// ErrNoStateDict wird zurueckgegeben wenn der Pickle kein State-Dict enthaelt
var ErrNoStateDict = errors.New("checkpoint contains no state dict")

// wrapperKeys sind uebliche Schluessel unter denen Trainingsskripte das State-Dict ablegen
var wrapperKeys = []string{"state_dict", "model", "net", "generator"}

// Checkpoint haelt die Float-Tensoren eines PyTorch-Checkpoints
type Checkpoint struct {
	tensors map[string]*pytorch.Tensor
	names   []string
}

// LoadTorch laedt einen PyTorch-Checkpoint
func LoadTorch(path string) (*Checkpoint, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	entries, err := stateDict(pt, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c := &Checkpoint{tensors: make(map[string]*pytorch.Tensor)}
	var skipped int
	for _, e := range entries {
		name, ok := e.Key.(string)
		if !ok {
			continue
		}
		t, ok := e.Value.(*pytorch.Tensor)
		if !ok {
			continue
		}
		if !isFloatStorage(t.Source) {
			// num_batches_tracked und andere Integer-Puffer
			skipped++
			continue
		}
		c.tensors[name] = t
		c.names = append(c.names, name)
	}

	if len(c.names) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoStateDict)
	}

	slices.Sort(c.names)
	slog.Debug("loaded torch checkpoint", "path", path, "tensors", len(c.names), "skipped", skipped)
	return c, nil
}

type entry struct {
	Key, Value any
}

// stateDict sucht das erste Dict mit Tensor-Werten, auch eine Ebene verschachtelt
func stateDict(v any, depth int) ([]entry, error) {
	var entries []entry
	switch d := v.(type) {
	case *types.OrderedDict:
		for el := d.List.Front(); el != nil; el = el.Next() {
			if e, ok := el.Value.(*types.OrderedDictEntry); ok {
				entries = append(entries, entry{e.Key, e.Value})
			}
		}
	case *types.Dict:
		for _, k := range d.Keys() {
			entries = append(entries, entry{k, d.MustGet(k)})
		}
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrNoStateDict, v)
	}

	for _, e := range entries {
		if _, ok := e.Value.(*pytorch.Tensor); ok {
			return entries, nil
		}
	}

	if depth > 0 {
		return nil, ErrNoStateDict
	}

	for _, key := range wrapperKeys {
		for _, e := range entries {
			if k, ok := e.Key.(string); ok && k == key {
				return stateDict(e.Value, depth+1)
			}
		}
	}

	return nil, ErrNoStateDict
}

func isFloatStorage(s pytorch.StorageInterface) bool {
	switch s.(type) {
	case *pytorch.FloatStorage, *pytorch.HalfStorage, *pytorch.BFloat16Storage, *pytorch.DoubleStorage:
		return true
	default:
		return false
	}
}

// Names gibt alle Tensornamen sortiert zurueck
func (c *Checkpoint) Names() []string {
	return slices.Clone(c.names)
}

// Metadata gibt nil zurueck, Pickle-Checkpoints tragen keine Metadaten
func (c *Checkpoint) Metadata() map[string]string {
	return nil
}

// Info beschreibt einen Tensor
func (c *Checkpoint) Info(name string) (fs.TensorInfo, error) {
	t, ok := c.tensors[name]
	if !ok {
		return fs.TensorInfo{}, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}

	var dtype string
	switch t.Source.(type) {
	case *pytorch.HalfStorage:
		dtype = "F16"
	case *pytorch.BFloat16Storage:
		dtype = "BF16"
	case *pytorch.DoubleStorage:
		dtype = "F64"
	default:
		dtype = "F32"
	}
	return fs.TensorInfo{Name: name, DType: dtype, Shape: slices.Clone(t.Size)}, nil
}

// Get kopiert einen Tensor in einen dichten float32-Puffer
func (c *Checkpoint) Get(name string) (*ml.Tensor, error) {
	t, ok := c.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrTensorNotFound, name)
	}

	var at func(int) float32
	var n int
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		at, n = func(i int) float32 { return s.Data[i] }, len(s.Data)
	case *pytorch.HalfStorage:
		at, n = func(i int) float32 { return s.Data[i] }, len(s.Data)
	case *pytorch.BFloat16Storage:
		at, n = func(i int) float32 { return s.Data[i] }, len(s.Data)
	case *pytorch.DoubleStorage:
		at, n = func(i int) float32 { return float32(s.Data[i]) }, len(s.Data)
	default:
		return nil, fmt.Errorf("tensor %s: unsupported storage %T", name, t.Source)
	}

	data, err := materialize(t.Size, t.Stride, t.StorageOffset, n, at)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return ml.FromFloats(data, t.Size...)
}

// Close gibt nichts frei, der Pickle liegt vollstaendig im Speicher
func (c *Checkpoint) Close() error {
	return nil
}

// materialize liest size-Elemente mit beliebigen Strides aus einem Storage der Laenge n
func materialize(size, stride []int, offset, n int, at func(int) float32) ([]float32, error) {
	if len(stride) != len(size) {
		return nil, fmt.Errorf("stride %v does not match size %v", stride, size)
	}

	total := 1
	last := offset
	for i, d := range size {
		total *= d
		if d > 0 {
			last += (d - 1) * stride[i]
		}
	}
	if total == 0 {
		return []float32{}, nil
	}
	if offset < 0 || last >= n {
		return nil, fmt.Errorf("view %v/%v at offset %d exceeds storage of %d elements", size, stride, offset, n)
	}

	out := make([]float32, total)
	idx := make([]int, len(size))
	for i := range out {
		pos := offset
		for d, v := range idx {
			pos += v * stride[d]
		}
		out[i] = at(pos)

		// Index wie einen Zaehler von der letzten Achse her erhoehen
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < size[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}
