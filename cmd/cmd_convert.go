// cmd_convert.go - PyTorch-Checkpoint nach Safetensors konvertieren
// Hauptfunktionen: ConvertHandler, convertCheckpoint
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/deepfusion/dfnet/convert"
	"github.com/deepfusion/dfnet/format"
	"github.com/deepfusion/dfnet/model"
	"github.com/deepfusion/dfnet/model/dfnet"
)

// ConvertHandler - Konvertiert SRC nach DST und schreibt die Konfiguration in die Metadaten
func ConvertHandler(cmd *cobra.Command, args []string) error {
	n, err := convertCheckpoint(args[0], args[1], cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	fi, err := os.Stat(args[1])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "converted %d tensors to %s (%s)\n", n, args[1], format.HumanBytes2(uint64(fi.Size())))
	return nil
}

// convertCheckpoint prueft vor dem Schreiben, dass sich das Modell aus src laden laesst
func convertCheckpoint(srcPath, dstPath string, progress io.Writer) (int, error) {
	src, err := model.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	cfg, err := dfnet.ResolveConfig(src)
	if err != nil {
		return 0, err
	}

	m, err := dfnet.New(cfg)
	if err != nil {
		return 0, err
	}
	if err := model.LoadModule(m, src, ""); err != nil {
		return 0, fmt.Errorf("checkpoint does not match config: %w", err)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return 0, err
	}

	metadata := map[string]string{
		model.ArchitectureKey: model.DefaultArchitecture,
		dfnet.ConfigKey:       string(raw),
	}

	display := newProgressDisplay(progress, len(src.Names()))
	defer display.finish()

	var n int
	err = convert.Convert(src, dstPath, metadata, func(name string) {
		n++
		display.update(n, name)
	})
	return n, err
}
