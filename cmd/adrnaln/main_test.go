package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/1ureka/adrnaln/internal/config"
	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/server"
	"github.com/1ureka/adrnaln/internal/sink"
)

func TestClientFlags(t *testing.T) {
	testCases := []struct {
		name      string
		shorthand string
		required  bool
	}{
		{"ip", "i", true},
		{"file", "f", true},
		{"chunk-size", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := clientCmd.Flags().Lookup(tc.name)
			if f == nil {
				t.Fatalf("flag --%s not defined", tc.name)
			}
			if f.Shorthand != tc.shorthand {
				t.Errorf("shorthand: got %q, want %q", f.Shorthand, tc.shorthand)
			}
			_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
			if required != tc.required {
				t.Errorf("required: got %v, want %v", required, tc.required)
			}
		})
	}
}

func TestClientRequiresIP(t *testing.T) {
	rootCmd.SetArgs([]string{"client", "--port", "9000", "--file", "x"})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), `"ip"`) {
		t.Fatalf("expected a missing --ip error, got %v", err)
	}
}

// TestReceiveWritesBufferedOnShutdown stops the server while completed
// transfers are still queued and checks that all of them reach disk.
func TestReceiveWritesBufferedOnShutdown(t *testing.T) {
	rx := config.NewDeliveryChannel()
	srv, err := server.New(config.Configuration{
		Addresses:  config.Addresses{Local: "127.0.0.1:0"},
		SequenceTx: rx,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	names := []string{"a.txt", "b.txt", "c.txt"}
	for i, name := range names {
		rx <- protocol.Packetize(uint64(i+1), name, []byte(name), 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	if err := receive(ctx, srv, rx, &sink.Writer{Dir: dir}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("%s not written: %v", name, err)
			continue
		}
		if string(data) != name {
			t.Errorf("%s: got %q", name, data)
		}
	}
}
