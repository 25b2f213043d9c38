// cmd_serve.go - Server-Start und Versionsanzeige
// Hauptfunktionen: RunServer, versionHandler
package cmd

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/deepfusion/dfnet/api"
	"github.com/deepfusion/dfnet/envconfig"
	"github.com/deepfusion/dfnet/server"
	"github.com/deepfusion/dfnet/version"
)

// RunServer - Startet den dfnet-Server
func RunServer(cmd *cobra.Command, _ []string) error {
	modelPath, _ := cmd.Flags().GetString("model")
	modelPath = cmp.Or(modelPath, envconfig.Model())
	if modelPath == "" {
		return errNoModel
	}

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln, modelPath)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt die Version an
func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Println("Warning: could not connect to a running dfnet instance")
	}

	if serverVersion != "" {
		fmt.Printf("dfnet version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Printf("Warning: client version is %s\n", version.Version)
	}
}

// checkServerHeartbeat - Prueft ob ein Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, client *api.Client) error {
	if err := client.Heartbeat(cmd.Context()); err != nil {
		return fmt.Errorf("dfnet server not responding at %s, start it with 'dfnet serve': %w", envconfig.Host(), err)
	}
	return nil
}
