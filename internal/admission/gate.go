// Package admission decides whether a session may start at all. The quota
// service is asked before any camera, microphone or socket is touched.
package admission

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/quota"
)

// Prompter surfaces a denial to the user.
type Prompter interface {
	// OfferRenewal is called when the plan can be renewed.
	OfferRenewal(quota.Decision)
	Block(quota.Decision)
}

// Opener opens the session: media, peer channel and relay connection.
type Opener func(ctx context.Context) error

type Gate struct {
	Quota    quota.Service
	Feature  string
	Prompter Prompter
}

// Admission is one admitted logical session.
type Admission struct {
	Decision quota.Decision

	gate     *Gate
	open     Opener
	once     sync.Once
	recorded error
}

// Start checks permission and, only if allowed, runs open. Usage is recorded
// once open succeeds. A failed permission check is treated as a denial.
func (g *Gate) Start(ctx context.Context, open Opener) (*Admission, error) {
	l := log.With().Str("module", "admission").Str("feature", g.Feature).Logger()

	d, err := g.Quota.CheckPermission(ctx, g.Feature)
	if err != nil {
		l.Error().Err(err).Msg("permission check failed, not admitting")
		return nil, core.NewError(core.KindPermissionDenied, "check permission", err)
	}
	if !d.Allowed {
		l.Warn().Str("reason", d.Reason).Bool("can_renew", d.CanRenew).Str("plan", d.CurrentPlan).Msg("session denied")
		if g.Prompter != nil {
			if d.CanRenew {
				g.Prompter.OfferRenewal(d)
			} else {
				g.Prompter.Block(d)
			}
		}
		return nil, core.NewError(core.KindPermissionDenied, "check permission", core.ErrPermissionDenied)
	}

	a := &Admission{Decision: d, gate: g, open: open}
	if err := open(ctx); err != nil {
		l.Warn().Err(err).Msg("session open failed, usage not recorded")
		return nil, err
	}
	a.record(ctx)
	return a, nil
}

// Reconnect reopens the same logical session. Permission is not checked and
// usage is not recorded again.
func (a *Admission) Reconnect(ctx context.Context) error {
	if err := a.open(ctx); err != nil {
		return err
	}
	a.record(ctx)
	return nil
}

// RecordErr is the outcome of the single usage report.
func (a *Admission) RecordErr() error { return a.recorded }

func (a *Admission) record(ctx context.Context) {
	a.once.Do(func() {
		a.recorded = a.gate.Quota.RecordUsage(ctx, a.gate.Feature, 1)
		if a.recorded != nil {
			log.Warn().Err(a.recorded).Str("module", "admission").Str("feature", a.gate.Feature).Msg("usage not recorded")
		}
	})
}
