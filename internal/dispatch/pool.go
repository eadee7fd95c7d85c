// Package dispatch fans power operations out to a fleet of controllers
// using a bounded worker pool, one task per device.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pdutools/pductl/internal/jaws"
	"github.com/pdutools/pductl/internal/journal"
	"github.com/pdutools/pductl/internal/options"
	"github.com/pdutools/pductl/internal/pdu"
)

// DefaultWorkers is the pool size used when the configured value is
// unusable.
const DefaultWorkers = options.DefaultThreads

// Config assembles the dispatcher's collaborators. Journal may be nil.
type Config struct {
	Workers int
	Jaws    jaws.Config
	Retry   pdu.RetryPolicy
	Journal *journal.Journal
	Out     io.Writer
	Logger  zerolog.Logger
}

// Pool runs one task per target device over a fixed set of workers.
// Tasks are independent: a slow or failing device never blocks another
// device's task, only the worker running it.
type Pool struct {
	workers int
	jawsCfg jaws.Config
	retry   pdu.RetryPolicy
	journal *journal.Journal
	out     io.Writer
	logger  zerolog.Logger
}

// New creates a pool. A worker count of zero or less falls back to the
// default with a warning.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Logger.Warn().
			Int("workers", cfg.Workers).
			Int("default", DefaultWorkers).
			Msg("Too few workers configured, using default")
		cfg.Workers = DefaultWorkers
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	return &Pool{
		workers: cfg.Workers,
		jawsCfg: cfg.Jaws,
		retry:   cfg.Retry,
		journal: cfg.Journal,
		out:     cfg.Out,
		logger:  cfg.Logger,
	}
}

// Run enqueues one task per device and returns once every task has
// finished. There is no aggregate result; outcomes are logged (and
// journaled) as they happen.
func (p *Pool) Run(ctx context.Context, opts options.Options) {
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Logger()

	logger.Debug().
		Int("workers", p.workers).
		Int("devices", len(opts.PDUs)).
		Str("operation", string(opts.Operation)).
		Msg("Dispatching device tasks")

	queue := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range queue {
				p.runDevice(ctx, runID, host, opts, logger)
			}
		}()
	}

	for _, host := range opts.PDUs {
		queue <- host
	}
	close(queue)
	wg.Wait()

	logger.Debug().Msg("All device tasks finished")
}

// runDevice is one device task. It owns its command layer instance; the
// only shared state it touches is read-only configuration.
func (p *Pool) runDevice(ctx context.Context, runID, host string, opts options.Options, logger zerolog.Logger) {
	taskLogger := logger.With().Str("task_id", uuid.NewString()).Logger()
	dev := pdu.New(host, opts.User, opts.Passwd, p.jawsCfg, p.retry, taskLogger)

	if opts.Operation == pdu.OpStatus {
		p.deviceStatus(ctx, dev, opts, taskLogger)
		return
	}

	// Groups first, then outlets. One failed target never aborts the rest.
	outcomes := dev.ControlGroups(ctx, opts.Groups)
	outcomes = append(outcomes, dev.ControlOutlets(ctx, opts.Outlets)...)
	p.recordOutcomes(runID, outcomes, taskLogger)
}

func (p *Pool) deviceStatus(ctx context.Context, dev *pdu.PDU, opts options.Options, logger zerolog.Logger) {
	var groups []pdu.Group
	if len(opts.Groups) > 0 {
		var err error
		groups, err = dev.GroupInformation(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to retrieve group information")
		}
	}

	outlets := pdu.ResolveOutlets(groups, opts.Groups, opts.Outlets)
	if len(outlets) == 0 {
		return
	}

	live, err := dev.OutletStatus(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to retrieve outlet status")
		return
	}

	for _, row := range pdu.StatusReport(dev.Host(), live, outlets) {
		fmt.Fprintln(p.out, row)
	}
}

func (p *Pool) recordOutcomes(runID string, outcomes []pdu.CommandOutcome, logger zerolog.Logger) {
	if p.journal == nil {
		return
	}

	for _, o := range outcomes {
		entry := journal.Entry{
			RunID:      runID,
			Host:       o.Host,
			TargetKind: o.Kind,
			Target:     o.Target,
			Operation:  string(o.Operation),
			Outcome:    journal.OutcomeSent,
		}
		if !o.OK() {
			entry.Outcome = journal.OutcomeFailed
			entry.Detail = o.Err.Error()
		}
		if err := p.journal.Record(entry); err != nil {
			logger.Warn().Err(err).Str("target", o.Target).Msg("Failed to journal command outcome")
		}
	}
}
