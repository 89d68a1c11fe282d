package updates

import (
	"context"
	"errors"
	"fmt"

	"github.com/DIMO-Network/updates-client/pkg/statemachine"
	"github.com/rs/zerolog"
)

// Procedure names, used in logs and metrics.
const (
	ProcedureStartup        = "startup"
	ProcedureCheckForUpdate = "check-for-update"
	ProcedureFetchUpdate    = "fetch-update"
	ProcedureCheckAndFetch  = "check-and-fetch"
	ProcedureRelaunch       = "relaunch"
)

type procedure struct {
	name string
	run  func(ctx context.Context, pc statemachine.ProcedureContext) error
}

func (p procedure) Name() string { return p.name }

func (p procedure) Run(ctx context.Context, pc statemachine.ProcedureContext) error {
	return p.run(ctx, pc)
}

// CheckForUpdate asks the server whether an update is available.
func (s *Service) CheckForUpdate() statemachine.Procedure {
	return procedure{name: ProcedureCheckForUpdate, run: func(ctx context.Context, pc statemachine.ProcedureContext) error {
		_, err := s.runCheck(ctx, pc)
		return err
	}}
}

// FetchUpdate downloads the update the server currently serves and stores it as pending.
func (s *Service) FetchUpdate() statemachine.Procedure {
	return procedure{name: ProcedureFetchUpdate, run: s.runFetch}
}

// CheckAndFetch checks for an update and downloads it if one is available.
func (s *Service) CheckAndFetch() statemachine.Procedure {
	return procedure{name: ProcedureCheckAndFetch, run: s.runCheckAndFetch}
}

// Startup wraps the launch-time check in startStartup and endStartup events.
func (s *Service) Startup() statemachine.Procedure {
	return procedure{name: ProcedureStartup, run: func(ctx context.Context, pc statemachine.ProcedureContext) error {
		if err := pc.ProcessStateEvent(statemachine.StartStartupEvent{}); err != nil {
			return err
		}
		var runErr error
		if s.settings.CheckOnLaunch {
			runErr = s.runCheckAndFetch(ctx, pc)
		}
		endErr := pc.ProcessStateEvent(statemachine.EndStartupEvent{})
		return errors.Join(runErr, endErr)
	}}
}

// Relaunch restarts the application on the pending update, then resets the state
// machine for the new application instance.
func (s *Service) Relaunch() statemachine.Procedure {
	return procedure{name: ProcedureRelaunch, run: func(ctx context.Context, pc statemachine.ProcedureContext) error {
		if err := pc.ProcessStateEvent(statemachine.RestartEvent{}); err != nil {
			return err
		}
		launched, reloadErr := s.relaunch(ctx)
		if reloadErr != nil {
			reloadErr = fmt.Errorf("failed to reload: %w", reloadErr)
		} else {
			zerolog.Ctx(ctx).Info().Str("updateId", launched).Msg("Reloaded application.")
		}
		return errors.Join(reloadErr, pc.ResetStateAfterRestart())
	}}
}

// runCheck reports whether an update or rollback is available.
func (s *Service) runCheck(ctx context.Context, pc statemachine.ProcedureContext) (bool, error) {
	if err := pc.ProcessStateEvent(statemachine.CheckEvent{}); err != nil {
		return false, err
	}
	event, err := s.check(ctx)
	if err != nil {
		return false, errors.Join(err, pc.ProcessStateEvent(statemachine.CheckErrorEvent{Message: err.Error()}))
	}
	if err := pc.ProcessStateEvent(event); err != nil {
		return false, err
	}
	_, unavailable := event.(statemachine.CheckCompleteUnavailableEvent)
	return !unavailable, nil
}

func (s *Service) runFetch(ctx context.Context, pc statemachine.ProcedureContext) error {
	if err := pc.ProcessStateEvent(statemachine.DownloadEvent{}); err != nil {
		return err
	}
	event, err := s.fetch(ctx, pc)
	if err != nil {
		return errors.Join(err, pc.ProcessStateEvent(statemachine.DownloadErrorEvent{Message: err.Error()}))
	}
	return pc.ProcessStateEvent(event)
}

func (s *Service) runCheckAndFetch(ctx context.Context, pc statemachine.ProcedureContext) error {
	available, err := s.runCheck(ctx, pc)
	if err != nil || !available {
		return err
	}
	return s.runFetch(ctx, pc)
}
