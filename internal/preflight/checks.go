// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-daq-bufman/internal/export"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options describes what the run will need.
type Options struct {
	RingBytes     int64
	MaxRingBytes  int64
	SummaryDir    string // empty skips the check
	ExportSocket  string // empty skips the check
	ExportClients int
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	for _, c := range []Check{
		checkRingMemory(opts.RingBytes, opts.MaxRingBytes),
		checkSummaryDir(opts.SummaryDir),
		checkSocketPath(opts.ExportSocket),
		checkFileDescriptors(opts.ExportClients),
	} {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}
	return result
}

// checkRingMemory verifies the ring fits the configured memory budget.
func checkRingMemory(ringBytes, maxBytes int64) Check {
	c := Check{
		Name:   "ring_memory",
		Passed: maxBytes <= 0 || ringBytes <= maxBytes,
	}
	if maxBytes <= 0 {
		c.Message = fmt.Sprintf("%s (no limit)", formatMiB(ringBytes))
		return c
	}
	c.Message = fmt.Sprintf("%s of %s allowed", formatMiB(ringBytes), formatMiB(maxBytes))
	return c
}

func formatMiB(n int64) string {
	return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
}

// checkSummaryDir verifies run summaries can be written.
func checkSummaryDir(dir string) Check {
	if dir == "" {
		return Check{Name: "summary_dir", Passed: true, Message: "disabled"}
	}

	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{
			Name:    "summary_dir",
			Passed:  false,
			Message: fmt.Sprintf("%s not writable: %v", dir, err),
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	return Check{Name: "summary_dir", Passed: true, Message: dir + " writable"}
}

// checkSocketPath verifies the export socket path fits sun_path and its
// directory exists.
func checkSocketPath(path string) Check {
	if path == "" {
		return Check{Name: "export_socket", Passed: true, Message: "disabled"}
	}
	if len(path) > export.MaxSocketPathLen {
		return Check{
			Name:    "export_socket",
			Passed:  false,
			Message: fmt.Sprintf("path is %d bytes, limit %d", len(path), export.MaxSocketPathLen),
		}
	}
	dir := filepath.Dir(path)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Check{
			Name:    "export_socket",
			Passed:  false,
			Message: fmt.Sprintf("directory %s does not exist", dir),
		}
	}
	return Check{Name: "export_socket", Passed: true, Message: path}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(clients int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Each export client holds a connection, plus a memfd in flight.
	// Plus overhead for the metrics server, log files and the database.
	required := clients*2 + 64
	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<31-1) {
		actual = 1<<31 - 1
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d clients)", actual, required, clients),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "ring_memory":
		return "reduce -buffers, -channels or -samples, or raise -max-ring-bytes"
	case "summary_dir":
		return "create the directory or point -summary-dir elsewhere"
	case "export_socket":
		return "use a shorter -export-socket path in an existing directory"
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	default:
		return "see documentation"
	}
}
