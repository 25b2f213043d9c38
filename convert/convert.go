// convert.go - Checkpoint nach Safetensors konvertieren
// Hauptfunktionen: Convert
package convert

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/deepfusion/dfnet/fs/safetensors"
	"github.com/deepfusion/dfnet/ml"
)

// Source ist eine Quelle benannter Tensoren
type Source interface {
	Names() []string
	Get(name string) (*ml.Tensor, error)
}

// Convert schreibt alle Float-Tensoren von src als F32-Safetensors nach dst.
// metadata landet unveraendert im __metadata__-Block.
func Convert(src Source, dst string, metadata map[string]string, fn func(name string)) error {
	names := src.Names()
	tensors := make([]safetensors.NamedTensor, 0, len(names))
	for _, name := range names {
		if strings.HasSuffix(name, "num_batches_tracked") {
			continue
		}

		t, err := src.Get(name)
		if err != nil {
			return err
		}
		tensors = append(tensors, safetensors.NamedTensor{Name: name, Tensor: t})
		if fn != nil {
			fn(name)
		}
	}

	if len(tensors) == 0 {
		return fmt.Errorf("no tensors to convert")
	}

	if err := safetensors.WriteFile(dst, tensors, metadata); err != nil {
		return err
	}

	slog.Info("converted checkpoint", "path", dst, "tensors", len(tensors))
	return nil
}
