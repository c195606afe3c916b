// Package sink consumes completed Sequences and writes them to disk.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/util"
)

// ErrNoFilename is returned for a Sequence whose packets carry no usable name.
var ErrNoFilename = errors.New("sequence has no filename")

// Writer writes each received Sequence to Dir/<filename>. An empty Dir means
// the working directory.
type Writer struct {
	Dir string
}

// Run drains rx until ctx is done or rx is closed. A Sequence that cannot be
// written is logged and skipped.
func (w *Writer) Run(ctx context.Context, rx <-chan *protocol.Sequence) {
	for {
		select {
		case seq, ok := <-rx:
			if !ok {
				return
			}
			path, err := w.Write(seq)
			if err != nil {
				util.LogError("[%016x] %v", seq.ID(), err)
				continue
			}
			util.LogSuccess("received %s (%s)", path, util.FormatBytes(float64(seq.Len())))

		case <-ctx.Done():
			return
		}
	}
}

// Write stores seq and returns the path written. Only the base name of the
// transferred filename is used, so a peer cannot escape Dir.
func (w *Writer) Write(seq *protocol.Sequence) (string, error) {
	name := filepath.Base(filepath.Clean("/" + seq.Filename()))
	if name == string(filepath.Separator) {
		return "", ErrNoFilename
	}

	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, seq.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
