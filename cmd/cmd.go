// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deepfusion/dfnet/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "dfnet",
		Short:         "Deep fusion image inpainting",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	runCmd := newRunCmd()
	serveCmd := newServeCmd()
	showCmd := newShowCmd()
	convertCmd := newConvertCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()

	for _, cmd := range []*cobra.Command{runCmd, serveCmd, showCmd, convertCmd} {
		switch cmd {
		case runCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["DFNET_MODEL"],
				envVars["DFNET_HOST"],
				envVars["DFNET_NUM_THREADS"],
				envVars["DFNET_NOMMAP"],
				envVars["DFNET_DEBUG"],
			})
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["DFNET_DEBUG"],
				envVars["DFNET_HOST"],
				envVars["DFNET_MODEL"],
				envVars["DFNET_LOAD_TIMEOUT"],
				envVars["DFNET_NUM_PARALLEL"],
				envVars["DFNET_MAX_QUEUE"],
				envVars["DFNET_NUM_THREADS"],
				envVars["DFNET_MAX_PIXELS"],
				envVars["DFNET_NOMMAP"],
				envVars["DFNET_ORIGINS"],
			})
		case showCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["DFNET_MODEL"], envVars["DFNET_HOST"]})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["DFNET_NOMMAP"]})
		}
	}

	rootCmd.AddCommand(
		runCmd,
		serveCmd,
		showCmd,
		convertCmd,
	)

	return rootCmd
}
