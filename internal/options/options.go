// Package options assembles the run configuration from an optional JSON
// power-sequence file and command-line values. Command-line values win.
package options

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdutools/pductl/internal/pdu"
)

// DefaultThreads is the worker-pool size used when none is configured.
const DefaultThreads = 10

// ErrInvalidArguments is returned for any unusable combination of file
// and command-line values.
var ErrInvalidArguments = errors.New("invalid arguments")

// Options is the resolved run configuration consumed by the dispatcher.
// The JSON tags match the power-sequence file format.
type Options struct {
	Operation pdu.Operation `json:"operation,omitempty"`
	PDUs      []string      `json:"pdus,omitempty"`
	Groups    []pdu.Target  `json:"groups,omitempty"`
	Outlets   []pdu.Target  `json:"outlets,omitempty"`
	User      string        `json:"user,omitempty"`
	Passwd    string        `json:"passwd,omitempty"`
	Threads   int           `json:"threads,omitempty"`
}

// CLI carries raw command-line values prior to merging.
type CLI struct {
	On     bool
	Off    bool
	Reboot bool
	Status bool

	PDUs    string // comma-separated
	Outlets string // comma-separated
	Groups  string // comma-separated

	User   string
	Passwd string

	Threads    int
	ThreadsSet bool
}

func (c CLI) operation() (pdu.Operation, error) {
	var op pdu.Operation
	count := 0
	for _, sel := range []struct {
		set bool
		op  pdu.Operation
	}{
		{c.On, pdu.OpOn},
		{c.Off, pdu.OpOff},
		{c.Reboot, pdu.OpReboot},
		{c.Status, pdu.OpStatus},
	} {
		if sel.set {
			op = sel.op
			count++
		}
	}
	if count > 1 {
		return "", fmt.Errorf("%w: more than one operation selected", ErrInvalidArguments)
	}
	return op, nil
}

// LoadFile reads a JSON power-sequence file. A broken file is a fatal
// configuration error, surfaced before any dispatch.
func LoadFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read sequence file: %w", err)
	}

	var opts Options
	if err := json.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse sequence file %s: %w", path, err)
	}

	if opts.Operation != "" {
		if _, err := pdu.ParseOperation(string(opts.Operation)); err != nil {
			return Options{}, fmt.Errorf("sequence file %s: %w", path, err)
		}
	}

	return opts, nil
}

// Merge overlays command-line values onto file-loaded options. Group and
// outlet names given on the command line replace same-named file entries
// and take the selected operation; device lists are unioned. A worker
// count set to zero or less falls back to the default with a warning.
func Merge(opts Options, cli CLI, logger zerolog.Logger) (Options, error) {
	cliOp, err := cli.operation()
	if err != nil {
		return Options{}, err
	}
	if cliOp != "" {
		opts.Operation = cliOp
	}

	if cli.PDUs != "" {
		opts.PDUs = dedupeStrings(append(opts.PDUs, splitList(cli.PDUs)...))
	}

	if cli.Groups != "" {
		if opts.Operation == "" {
			return Options{}, fmt.Errorf("%w: groups given without an operation", ErrInvalidArguments)
		}
		opts.Groups = overlayTargets(opts.Groups, splitList(cli.Groups), opts.Operation)
	}

	if cli.Outlets != "" {
		if opts.Operation == "" {
			return Options{}, fmt.Errorf("%w: outlets given without an operation", ErrInvalidArguments)
		}
		opts.Outlets = overlayTargets(opts.Outlets, splitList(cli.Outlets), opts.Operation)
	}

	// File entries may omit per-target operations; they inherit the
	// selected one.
	opts.Groups = fillOperations(opts.Groups, opts.Operation)
	opts.Outlets = fillOperations(opts.Outlets, opts.Operation)

	if cli.User != "" {
		opts.User = cli.User
	}
	if cli.Passwd != "" {
		opts.Passwd = cli.Passwd
	}

	if cli.ThreadsSet {
		opts.Threads = cli.Threads
	}
	if opts.Threads <= 0 {
		if cli.ThreadsSet || opts.Threads < 0 {
			logger.Warn().
				Int("threads", opts.Threads).
				Int("default", DefaultThreads).
				Msg("Too few threads selected, using default")
		}
		opts.Threads = DefaultThreads
	}

	return opts, nil
}

// Validate checks that there is something to do. Violations are fatal
// configuration errors.
func (o Options) Validate() error {
	if o.Operation == "" {
		return fmt.Errorf("%w: no operation selected", ErrInvalidArguments)
	}
	if _, err := pdu.ParseOperation(string(o.Operation)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if len(o.PDUs) == 0 {
		return fmt.Errorf("%w: no devices specified", ErrInvalidArguments)
	}
	if len(o.Groups) == 0 && len(o.Outlets) == 0 {
		return fmt.Errorf("%w: no outlets or groups specified", ErrInvalidArguments)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func overlayTargets(existing []pdu.Target, names []string, op pdu.Operation) []pdu.Target {
	names = dedupeStrings(names)
	for _, name := range names {
		kept := existing[:0]
		for _, t := range existing {
			if t.Name != name {
				kept = append(kept, t)
			}
		}
		existing = append(kept, pdu.Target{Name: name, Operation: op})
	}
	return existing
}

func fillOperations(targets []pdu.Target, op pdu.Operation) []pdu.Target {
	for i := range targets {
		if targets[i].Operation == "" {
			targets[i].Operation = op
		}
	}
	return targets
}
