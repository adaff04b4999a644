// Package runstore persists run summaries produced by the buffer manager.
//
// Two stores are provided: FileWriter writes one human readable .sum file per
// run, and SQLite appends each run as a row so that runs can be listed later.
// Multi fans a summary out to several stores.
package runstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/logging"
)

// DefaultPrefix is the file name prefix used by FileWriter.
const DefaultPrefix = "BMsummary"

// FileWriter writes <Prefix>_<yymmdd-HHMM>.sum into Dir.
type FileWriter struct {
	Dir    string
	Prefix string
}

// NewFileWriter returns a FileWriter with the default prefix.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{Dir: dir, Prefix: DefaultPrefix}
}

// Path returns the file a summary started at s.Started would be written to.
func (w *FileWriter) Path(s bufman.RunSummary) string {
	prefix := w.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, prefix+"_"+logging.RunStamp(s.Started)+".sum")
}

// WriteSummary implements bufman.SummaryWriter.
// A second run started in the same minute overwrites the earlier file.
func (w *FileWriter) WriteSummary(ctx context.Context, s bufman.RunSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := w.Path(s)
	if err := os.WriteFile(path, []byte(FormatSummary(s)), 0o644); err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return nil
}

// FormatSummary renders the two line .sum text.
func FormatSummary(s bufman.RunSummary) string {
	return fmt.Sprintf("Run Summary: started %s\nTrun=%.1fs  Ntrig=%d  Tlife=%.1fs\n",
		s.Started.Format("Mon Jan _2 15:04:05 2006"),
		s.RunTime.Seconds(), s.Triggers, s.LifeTime.Seconds())
}
