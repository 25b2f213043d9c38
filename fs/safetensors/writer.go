package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deepfusion/dfnet/ml"
)

// NamedTensor ist ein Tensor mit seinem Namen im Header
type NamedTensor struct {
	Name   string
	Tensor *ml.Tensor
}

// Write schreibt Tensoren als F32 in der angegebenen Reihenfolge.
// Der Header wird mit Leerzeichen auf ein Vielfaches von 8 Byte aufgefuellt.
func Write(w io.Writer, tensors []NamedTensor, metadata map[string]string) error {
	header := orderedmap.New[string, any]()
	if len(metadata) > 0 {
		header.Set(metadataKey, metadata)
	}

	var offset int64
	for _, t := range tensors {
		if t.Name == metadataKey {
			return fmt.Errorf("safetensors: reserved tensor name %q", t.Name)
		}
		size := int64(t.Tensor.Len()) * int64(F32.Size())
		if _, present := header.Set(t.Name, tensorEntry{DType: F32, Shape: t.Tensor.Shape(), Offsets: [2]int64{offset, offset + size}}); present {
			return fmt.Errorf("safetensors: duplicate tensor %q", t.Name)
		}
		offset += size
	}

	bts, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if pad := (8 - len(bts)%8) % 8; pad > 0 {
		bts = append(bts, bytes.Repeat([]byte{' '}, pad)...)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(bts))); err != nil {
		return err
	}
	if _, err := w.Write(bts); err != nil {
		return err
	}

	for _, t := range tensors {
		if err := binary.Write(w, binary.LittleEndian, t.Tensor.Floats()); err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
	}
	return nil
}

// WriteFile schreibt atomar ueber eine temporaere Datei im Zielverzeichnis
func WriteFile(path string, tensors []NamedTensor, metadata map[string]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".dfnet-*.safetensors")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := Write(f, tensors, metadata); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
