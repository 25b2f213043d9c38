// cmd_show.go - Modell-Informationen anzeigen
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/deepfusion/dfnet/api"
	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/format"
	"github.com/deepfusion/dfnet/model"
	_ "github.com/deepfusion/dfnet/model/models"
	"github.com/deepfusion/dfnet/server"
)

// ShowHandler - Zeigt Architektur, Konfiguration und optional die Tensoren
func ShowHandler(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	remote, _ := cmd.Flags().GetBool("remote")

	var resp *api.ShowResponse
	if remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		resp, err = client.Show(cmd.Context(), &api.ShowRequest{Verbose: verbose})
		if err != nil {
			return err
		}
	} else {
		path := envconfig.Model()
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			return errNoModel
		}

		m, err := model.New(path)
		if err != nil {
			return err
		}

		resp, err = server.ShowModel(m, verbose)
		if err != nil {
			return err
		}
	}

	return showInfo(resp, verbose, cmd.OutOrStdout())
}

func showInfo(resp *api.ShowResponse, verbose bool, w io.Writer) error {
	tableRender := func(header string, rows func() [][]string) {
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	tableRender("Model", func() (rows [][]string) {
		rows = append(rows, []string{"", "architecture", resp.Architecture})
		rows = append(rows, []string{"", "parameters", format.HumanNumber(resp.Parameters)})
		rows = append(rows, []string{"", "size multiple", fmt.Sprint(resp.Multiple)})
		if resp.Path != "" {
			rows = append(rows, []string{"", "path", resp.Path})
		}
		if resp.LoadDuration > 0 {
			rows = append(rows, []string{"", "load duration", format.HumanDuration(resp.LoadDuration)})
		}
		return
	})

	if len(resp.Config) > 0 {
		// Schluessel in der Reihenfolge der Konfiguration ausgeben
		config := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(resp.Config, config); err != nil {
			return fmt.Errorf("invalid model config: %w", err)
		}

		tableRender("Config", func() (rows [][]string) {
			for pair := config.Oldest(); pair != nil; pair = pair.Next() {
				rows = append(rows, []string{"", pair.Key, string(pair.Value)})
			}
			return
		})
	}

	if verbose && resp.Tensors != nil && resp.Tensors.Len() > 0 {
		tableRender("Tensors", func() (rows [][]string) {
			for pair := resp.Tensors.Oldest(); pair != nil; pair = pair.Next() {
				shape := make([]string, len(pair.Value.Shape))
				for i, d := range pair.Value.Shape {
					shape[i] = fmt.Sprint(d)
				}
				rows = append(rows, []string{"", pair.Key, pair.Value.DType, "[" + strings.Join(shape, " ") + "]"})
			}
			return
		})
	}

	return nil
}
