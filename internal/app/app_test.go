package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Raikerian/consult-voice/internal/app"
	"github.com/Raikerian/consult-voice/internal/assistant"
	"github.com/Raikerian/consult-voice/internal/config"
	"github.com/Raikerian/consult-voice/internal/live"
	"github.com/Raikerian/consult-voice/internal/transcript"
)

type fakeLive struct {
	mu    sync.Mutex
	cfg   live.Config
	state live.State
}

func (f *fakeLive) Connect(_ context.Context, cfg live.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.state = live.Open
	return nil
}

func (f *fakeLive) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = live.Disconnected
	return nil
}

func (f *fakeLive) State() live.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLive) config() live.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func newApp(t *testing.T) (*app.Application, *assistant.Service, *fakeLive, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	cfg := &config.Config{
		Remote: config.RemoteConfig{
			Provider: config.ProviderGemini,
			Gemini:   config.GeminiConfig{APIKey: "key"},
		},
		Transcript: config.TranscriptConfig{MaxConsultations: 2, FlushAfter: time.Hour},
	}
	store, err := transcript.NewStore(cfg.Transcript.MaxConsultations)
	require.NoError(t, err)

	fl := &fakeLive{}
	svc := assistant.NewService(logger, cfg, fl, store)

	a := app.New(
		fx.Supply(svc, logger, app.ConsultationID("c1")),
		fx.NopLogger,
	)
	require.NoError(t, a.Err())
	return a, svc, fl, logs
}

func TestApplicationLifecycle(t *testing.T) {
	a, svc, fl, logs := newApp(t)
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))
	assert.True(t, svc.Status("c1").Active)

	fl.config().OnTranscription("Bonjour docteur.", true)

	require.NoError(t, a.Stop(ctx))
	assert.False(t, svc.Status("c1").Active)

	entries := logs.FilterMessage("Transcript").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Bonjour docteur.", entries[0].ContextMap()["text"])
	assert.Equal(t, "user", entries[0].ContextMap()["speaker"])
}

func TestApplicationShutsDownWhenSessionFails(t *testing.T) {
	a, _, fl, _ := newApp(t)
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))
	fl.config().OnError(errors.New("remote went away"))

	select {
	case sig := <-a.Done():
		assert.Equal(t, 1, sig.ExitCode)
	case <-time.After(2 * time.Second):
		t.Fatal("application did not shut down")
	}
	require.NoError(t, a.Stop(ctx))
}
