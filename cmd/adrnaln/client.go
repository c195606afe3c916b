package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/1ureka/adrnaln/internal/client"
	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/util"
)

var (
	remoteIP  string
	filePath  string
	chunkSize int
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send one file to a server",
	Long: `
	Reads the file given by --file, splits it into packets of at most
	--chunk-size bytes and sends them to --ip:--port. Nothing is acknowledged;
	the command exits once every packet has been handed to the network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkPort(); err != nil {
			return err
		}
		ctx := cmd.Context()

		remote := net.JoinHostPort(remoteIP, strconv.Itoa(int(port)))
		c, err := client.NewWithNetwork(ctx, network, config.Addresses{Remote: remote})
		if err != nil {
			return fmt.Errorf("failed to reach %s: %w", remote, err)
		}
		defer c.Close()
		c.WithChunkSize(chunkSize)

		seq, err := c.BuildSequenceFromFile(filePath)
		if err != nil {
			return err
		}
		if err := c.SendSequence(ctx, seq); err != nil {
			return err
		}

		util.LogSuccess("sent %s to %s: %d packets, %s",
			seq.Filename(), remote, len(seq.Packets), util.FormatBytes(float64(seq.Len())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().StringVarP(&remoteIP, "ip", "i", "", "server address to send to")
	clientCmd.Flags().StringVarP(&filePath, "file", "f", "", "file to send")
	clientCmd.Flags().IntVar(&chunkSize, "chunk-size", protocol.MaxChunkSize, "maximum payload bytes per packet")
	clientCmd.MarkFlagRequired("ip")
	clientCmd.MarkFlagRequired("file")
}
