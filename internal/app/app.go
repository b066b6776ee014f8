// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/consult-voice/internal/assistant"
)

// ConsultationID names the consultation the assistant is switched on for.
type ConsultationID string

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	return &Application{
		app: fx.New(options...),
	}
}

// Err reports a failure to build the dependency graph.
func (a *Application) Err() error {
	return a.app.Err()
}

// Start starts the application and the assistant.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// Done is closed when the assistant session ends on its own.
func (a *Application) Done() <-chan fx.ShutdownSignal {
	return a.app.Wait()
}

type hookParams struct {
	fx.In

	Lifecycle    fx.Lifecycle
	Shutdowner   fx.Shutdowner
	Service      *assistant.Service
	Logger       *zap.Logger
	Consultation ConsultationID
}

// registerLifecycleHooks switches the assistant on at start and logs the
// consultation transcript at stop.
func registerLifecycleHooks(p hookParams) {
	id := string(p.Consultation)
	logger := p.Logger.With(zap.String("consultation", id))

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting application: switching assistant on")

			if err := p.Service.Start(ctx, id); err != nil {
				logger.Error("Failed to start assistant", zap.Error(err))
				return err
			}

			go watch(p.Service, id, p.Shutdowner, logger)

			logger.Info("Application started successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping application: switching assistant off")

			if err := p.Service.Close(ctx); err != nil {
				logger.Error("Failed to stop assistant", zap.Error(err))
				return err
			}

			for _, e := range p.Service.Transcript(id) {
				logger.Info("Transcript",
					zap.String("speaker", string(e.Speaker)),
					zap.Time("at", e.At),
					zap.String("text", e.Text))
			}

			logger.Info("Application stopped successfully")
			return nil
		},
	})
}

// watch shuts the application down once the session is no longer active,
// which happens when it fails.
func watch(svc *assistant.Service, id string, sd fx.Shutdowner, logger *zap.Logger) {
	for range svc.Ended() {
		st := svc.Status(id)
		if st.Active {
			continue
		}
		code := 0
		if st.LastError != "" {
			logger.Warn("Assistant ended", zap.String("error", strings.TrimSpace(st.LastError)))
			code = 1
		}
		if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
			logger.Debug("Shutdown already in progress", zap.Error(err))
		}
		return
	}
}
