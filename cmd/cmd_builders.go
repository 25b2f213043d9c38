// cmd_builders.go - Command-Builder Funktionen
// Hauptfunktionen: newRunCmd, newServeCmd, newShowCmd, newConvertCmd
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/imageproc"
)

// newRunCmd - Erstellt den run Command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run IMAGES MASKS OUTPUT",
		Short: "Inpaint images using their masks",
		Long: `Inpaint every image in IMAGES with the mask of the same name in MASKS
and write the results to OUTPUT. IMAGES and MASKS may also be single files.`,
		Args: cobra.ExactArgs(3),
		RunE: RunHandler,
	}

	runCmd.Flags().String("model", "", "Checkpoint to load (default $DFNET_MODEL)")
	runCmd.Flags().Int("size", 0, "Resize inputs to SIZE x SIZE for inference (0 = native resolution)")
	runCmd.Flags().Bool("merge", true, "Keep original pixels outside the holes")
	runCmd.Flags().Bool("invert-mask", false, "Treat black mask pixels as holes")
	runCmd.Flags().Bool("save-alpha", false, "Also write <name>_alpha.png")
	runCmd.Flags().Bool("save-raw", false, "Also write the unblended prediction <name>_raw.png")
	runCmd.Flags().Int("parallel", 1, "Number of images processed at once")
	runCmd.Flags().Int("threads", int(envconfig.NumThreads()), "Goroutines per forward pass (0 = all CPUs)")
	runCmd.Flags().String("format", "png", "Output format (png, jpg, bmp)")
	runCmd.Flags().Int("quality", imageproc.DefaultQuality, "JPEG quality")
	runCmd.Flags().Bool("remote", false, "Send images to a running dfnet server")
	runCmd.Flags().Bool("verbose", false, "Show per-image timings and metrics")

	return runCmd
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the dfnet inference server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	serveCmd.Flags().String("model", "", "Checkpoint to load (default $DFNET_MODEL)")
	return serveCmd
}

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show [MODEL]",
		Short: "Show information for a checkpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ShowHandler,
	}

	showCmd.Flags().BoolP("verbose", "v", false, "Show the tensor listing")
	showCmd.Flags().Bool("remote", false, "Show the model loaded by a running dfnet server")
	return showCmd
}

// newConvertCmd - Erstellt den convert Command
func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Convert a PyTorch checkpoint to safetensors",
		Args:  cobra.ExactArgs(2),
		RunE:  ConvertHandler,
	}
}
