package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/server"
	"github.com/1ureka/adrnaln/internal/sink"
	"github.com/1ureka/adrnaln/internal/util"
)

var (
	outDir      string
	idleTimeout time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Receive files and write them to a directory",
	Long: `
	Binds 0.0.0.0 on the port given by --port and writes every completed
	transfer to the directory given by --dir. Transfers that stop making
	progress for --idle-timeout are discarded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkPort(); err != nil {
			return err
		}
		ctx := cmd.Context()

		rx := config.NewDeliveryChannel()
		srv, err := server.New(config.Configuration{
			Addresses:   config.Addresses{Local: fmt.Sprintf("0.0.0.0:%d", port)},
			SequenceTx:  rx,
			IdleTimeout: idleTimeout,
			Network:     network,
		})
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		util.StartStatsReporter(ctx)
		util.LogSuccess("listening on %s (%s), writing to %s", srv.LocalAddr(), network, outDir)

		if err := receive(ctx, srv, rx, &sink.Writer{Dir: outDir}); err != nil {
			return fmt.Errorf("receive loop failed: %w", err)
		}
		util.LogInfo("server stopped")
		return nil
	},
}

// receive runs srv until ctx is done. The writer drains rx independently of
// ctx, so transfers that completed before shutdown are still written.
func receive(ctx context.Context, srv *server.Server, rx chan *protocol.Sequence, w *sink.Writer) error {
	written := make(chan struct{})
	go func() {
		defer close(written)
		w.Run(context.WithoutCancel(ctx), rx)
	}()

	err := srv.Start(ctx)

	// Start never sends once it has returned.
	close(rx)
	<-written
	return err
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVarP(&outDir, "dir", "d", ".", "directory to write received files to")
	serverCmd.Flags().DurationVar(&idleTimeout, "idle-timeout", config.DefaultIdleTimeout, "discard transfers idle for longer than this")
}
