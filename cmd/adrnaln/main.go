// Adrnaln CLI entry point.
//
// Sends a single file to a receiving server over UDP (or a WebRTC
// DataChannel) without acknowledgements, and reassembles what arrives on the
// other side into files on disk.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/util"
)

var version = "dev"

// Flags shared by both subcommands.
var (
	port      uint16
	network   string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:          "adrnaln",
	Short:        "Fire-and-forget file transfer over UDP",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugMode {
			util.EnableDebug()
		}
		pterm.Info.Println(fmt.Sprintf("Adrnaln v%s", version))
		pterm.Println()
	},
}

func init() {
	rootCmd.PersistentFlags().Uint16VarP(&port, "port", "p", 0, "port to bind (server) or send to (client)")
	rootCmd.PersistentFlags().StringVarP(&network, "transport", "t", config.NetworkUDP, "transport: udp or webrtc")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// checkPort rejects the zero port for commands that need a concrete one.
func checkPort() error {
	if port == 0 {
		return fmt.Errorf("invalid or missing --port (must be 1~65535)")
	}
	return nil
}
