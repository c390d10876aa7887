package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Saga records the completed steps of a multi-step workflow so they can be
// unwound in reverse order when a later step fails.
//
// Rules:
// - Undo funcs must be idempotent and best-effort.
// - Unwind failures are aggregated in the report, never merged into the
//   error that triggered the unwind.
type Saga struct {
	name  string
	log   *slog.Logger
	steps []step
}

type step struct {
	name       string
	externalID string
	undo       func(ctx context.Context) error
}

func New(name string, log *slog.Logger) *Saga {
	if log == nil {
		log = slog.Default()
	}
	return &Saga{name: name, log: log}
}

// Ran records a completed forward step and its compensating action.
// externalID identifies the remote resource the step created or mutated; it is
// surfaced when the undo fails so operators can locate the orphan.
func (s *Saga) Ran(name, externalID string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, step{name: name, externalID: externalID, undo: undo})
}

// Unwind runs the recorded compensating actions in reverse order.
// Every undo is attempted even when earlier ones fail.
func (s *Saga) Unwind(ctx context.Context) Report {
	rep := Report{Attempted: len(s.steps)}
	for i := len(s.steps) - 1; i >= 0; i-- {
		st := s.steps[i]
		if err := st.undo(ctx); err != nil {
			s.log.Error("compensation step failed",
				"saga", s.name,
				"step", st.name,
				"external_id", st.externalID,
				"err", err,
			)
			rep.Failures = append(rep.Failures, StepFailure{
				Step:       st.name,
				ExternalID: st.externalID,
				Err:        err,
			})
			continue
		}
		s.log.Info("compensation step done", "saga", s.name, "step", st.name)
		rep.Undone++
	}
	return rep
}

// StepFailure is one compensating action that could not complete.
type StepFailure struct {
	Step       string
	ExternalID string
	Err        error
}

// Report summarizes an unwind pass.
type Report struct {
	Attempted int
	Undone    int
	Failures  []StepFailure
}

// Complete reports whether every recorded step was successfully undone.
func (r Report) Complete() bool {
	return len(r.Failures) == 0
}

// OrphanedIDs lists the external ids of resources whose undo failed.
func (r Report) OrphanedIDs() []string {
	var ids []string
	for _, f := range r.Failures {
		if f.ExternalID != "" {
			ids = append(ids, f.ExternalID)
		}
	}
	return ids
}

// Err joins the individual failure errors, one per step, or returns nil when
// the unwind completed.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("undo %s (%s): %w", f.Step, f.ExternalID, f.Err))
	}
	return errors.Join(errs...)
}
