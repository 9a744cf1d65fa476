package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/jobctl/pkg/domain"
)

// Console supplies operator commands while a run is paused.
type Console interface {
	Command(ctx context.Context, state domain.State) (domain.Command, error)
}

// SessionOptions configure RunSession.
type SessionOptions struct {
	// Step starts in stepping mode instead of running.
	Step bool
	// Console is asked for the next command whenever the run pauses.
	// Without one a paused run is aborted.
	Console Console
	// Out receives rejected command messages.
	Out io.Writer
}

// RunSession starts a run of the configured job and drives it until the controller
// is stopped again. Glue dispensing chained into pick-and-place counts as one session.
// It returns the last run record.
func RunSession(ctx context.Context, app *App, opts SessionOptions) (*domain.RunRecord, error) {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	ctrl := app.Controller

	start := ctrl.StartOrPause
	if opts.Step {
		start = ctrl.Step
	}
	if err := start(ctx); err != nil {
		return lastRun(app), err
	}

	for {
		if err := ctrl.WaitIdle(ctx); err != nil {
			return lastRun(app), stop(app, err)
		}
		state := ctrl.State()
		if state == domain.StateStopped {
			return lastRun(app), nil
		}

		if opts.Console == nil {
			app.Logger.Info("Run paused without an operator console, aborting", "state", state)
			if err := ctrl.Abort(ctx); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				return lastRun(app), err
			}
			continue
		}

		cmd, err := opts.Console.Command(ctx, state)
		if err != nil {
			return lastRun(app), stop(app, err)
		}
		if err := ctrl.Dispatch(ctx, cmd); err != nil {
			fmt.Fprintf(opts.Out, "%s rejected: %v\n", cmd, err)
		}
	}
}

// stop aborts the active run after the session was interrupted and waits for the
// abort to settle.
func stop(app *App, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if app.Controller.State() != domain.StateStopped {
		if err := app.Controller.Abort(ctx); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return errors.Join(cause, err)
		}
	}
	if err := app.Controller.WaitIdle(ctx); err != nil {
		return errors.Join(cause, err)
	}
	if errors.Is(cause, io.EOF) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

func lastRun(app *App) *domain.RunRecord {
	r, ok := app.Controller.Run()
	if !ok {
		return nil
	}
	return r
}
