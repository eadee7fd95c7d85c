// Package pdu provides the device-scoped command layer for a Server Tech
// iPDU: status queries and power commands with bounded retry over the
// controller's unreliable JAWS API.
package pdu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pdutools/pductl/internal/jaws"
)

// ErrRetriesExhausted is returned once the retry ceiling for a query or
// command has been reached without success.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy bounds the attempts made against a flaky controller. Delay
// is the fixed pause between attempts; there is no backoff.
type RetryPolicy struct {
	QueryAttempts   int
	CommandAttempts int
	Delay           time.Duration
}

// DefaultRetryPolicy matches the controller behaviour seen in the field:
// queries settle within a handful of attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		QueryAttempts:   6,
		CommandAttempts: 5,
		Delay:           1 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.QueryAttempts <= 0 {
		p.QueryAttempts = def.QueryAttempts
	}
	if p.CommandAttempts <= 0 {
		p.CommandAttempts = def.CommandAttempts
	}
	if p.Delay <= 0 {
		p.Delay = def.Delay
	}
	return p
}

// PDU is the command layer for one controller. Each concurrent device
// task owns its own instance; nothing here is shared.
type PDU struct {
	host   string
	client *jaws.Client
	retry  RetryPolicy
	logger zerolog.Logger
}

// New creates a command layer bound to one controller.
func New(host, user, password string, cfg jaws.Config, retry RetryPolicy, logger zerolog.Logger) *PDU {
	return &PDU{
		host:   host,
		client: jaws.NewClient(host, user, password, cfg, logger),
		retry:  retry.withDefaults(),
		logger: logger.With().Str("host", host).Logger(),
	}
}

// Host returns the controller host.
func (p *PDU) Host() string {
	return p.host
}

// OutletStatus fetches the state of every outlet on the controller,
// retrying on transport errors, error statuses, and malformed payloads.
func (p *PDU) OutletStatus(ctx context.Context) ([]Outlet, error) {
	var outlets []Outlet
	if err := p.query(ctx, "outlet status", jaws.OutletMonitor, &outlets); err != nil {
		return nil, err
	}
	return outlets, nil
}

// GroupInformation fetches the controller's group definitions, retrying
// the same way as OutletStatus.
func (p *PDU) GroupInformation(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := p.query(ctx, "group information", jaws.GroupMonitor, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (p *PDU) query(ctx context.Context, what, path string, out any) error {
	var lastErr error
	for attempt := 1; attempt <= p.retry.QueryAttempts; attempt++ {
		lastErr = p.queryOnce(ctx, path, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s from %s: %w", what, p.host, ctx.Err())
		}

		p.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Str("query", what).
			Msg("Query failed, retrying")

		if attempt < p.retry.QueryAttempts {
			if err := sleep(ctx, p.retry.Delay); err != nil {
				return fmt.Errorf("%s from %s: %w", what, p.host, err)
			}
		}
	}

	p.logger.Error().
		Int("attempts", p.retry.QueryAttempts).
		Str("query", what).
		Msg("Exceeded retries, giving up")

	return fmt.Errorf("%s from %s after %d attempts: %w (last error: %v)",
		what, p.host, p.retry.QueryAttempts, ErrRetriesExhausted, lastErr)
}

func (p *PDU) queryOnce(ctx context.Context, path string, out any) error {
	body, _, err := p.client.Get(ctx, path)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type controlPayload struct {
	ControlAction string `json:"control_action"`
}

// OutletCommand sends a power operation to one outlet, retrying on
// transport errors and error statuses.
func (p *PDU) OutletCommand(ctx context.Context, outlet string, op Operation) error {
	return p.command(ctx, "outlet", jaws.OutletControl, outlet, op)
}

// GroupCommand sends a power operation to one group.
func (p *PDU) GroupCommand(ctx context.Context, group string, op Operation) error {
	return p.command(ctx, "group", jaws.GroupControl, group, op)
}

func (p *PDU) command(ctx context.Context, kind, base, name string, op Operation) error {
	path := base + "/" + name
	payload := controlPayload{ControlAction: string(op)}

	var lastErr error
	for attempt := 1; attempt <= p.retry.CommandAttempts; attempt++ {
		_, lastErr = p.client.Patch(ctx, path, payload)
		if lastErr == nil {
			p.logger.Info().
				Str(kind, name).
				Str("operation", string(op)).
				Msg("Command sent")
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s %s at %s: %w", op, kind, name, p.host, ctx.Err())
		}

		p.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Str(kind, name).
			Str("operation", string(op)).
			Msg("Command failed, retrying")

		if attempt < p.retry.CommandAttempts {
			if err := sleep(ctx, p.retry.Delay); err != nil {
				return fmt.Errorf("%s %s %s at %s: %w", op, kind, name, p.host, err)
			}
		}
	}

	p.logger.Error().
		Int("attempts", p.retry.CommandAttempts).
		Str(kind, name).
		Str("operation", string(op)).
		Msg("Exceeded retries, giving up")

	return fmt.Errorf("%s %s %s at %s after %d attempts: %w (last error: %v)",
		op, kind, name, p.host, p.retry.CommandAttempts, ErrRetriesExhausted, lastErr)
}

// ControlGroups applies each group target's operation in turn. One failing
// target does not stop the sweep.
func (p *PDU) ControlGroups(ctx context.Context, targets []Target) []CommandOutcome {
	outcomes := make([]CommandOutcome, 0, len(targets))
	for _, t := range targets {
		err := p.GroupCommand(ctx, t.Name, t.Operation)
		outcomes = append(outcomes, CommandOutcome{
			Host:      p.host,
			Kind:      "group",
			Target:    t.Name,
			Operation: t.Operation,
			Err:       err,
		})
	}
	return outcomes
}

// ControlOutlets applies each outlet target's operation in turn.
func (p *PDU) ControlOutlets(ctx context.Context, targets []Target) []CommandOutcome {
	outcomes := make([]CommandOutcome, 0, len(targets))
	for _, t := range targets {
		err := p.OutletCommand(ctx, t.Name, t.Operation)
		outcomes = append(outcomes, CommandOutcome{
			Host:      p.host,
			Kind:      "outlet",
			Target:    t.Name,
			Operation: t.Operation,
			Err:       err,
		})
	}
	return outcomes
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
