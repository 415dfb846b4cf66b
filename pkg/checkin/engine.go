package checkin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/velora-health/velora/pkg/audio/capture"
	"github.com/velora-health/velora/pkg/audio/playback"
	"github.com/velora-health/velora/pkg/live"
	"github.com/velora-health/velora/pkg/logging"
	"github.com/velora-health/velora/pkg/metrics"
	"github.com/velora-health/velora/pkg/observers"
	"github.com/velora-health/velora/pkg/preserve"
	"github.com/velora-health/velora/pkg/redact"
	"github.com/velora-health/velora/pkg/resilience"
	"github.com/velora-health/velora/pkg/session"
)

// Options assemble an Engine. Zero-value collaborators are replaced with the
// real implementations; tests inject fakes.
type Options struct {
	Config   Config
	Store    session.ContextStore
	Live     session.LiveClient
	Capture  session.CapturePipeline
	Playback session.PlaybackPipeline
	Preserve *preserve.Store
	Observer metrics.Observer
}

// Engine wires the audio pipelines, the live channel, the orchestrator, the
// preservation store, and observability into the surface a UI consumes.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	orch       *session.Orchestrator
	liveClient session.LiveClient
	relay      *live.RelayClient
	preserve   *preserve.Store

	async       *metrics.AsyncObserver
	transcript  *observers.TranscriptObserver
	metricsFile *os.File
}

func New(opts Options) *Engine {
	cfg := opts.Config.withDefaults()
	e := &Engine{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(slog.Default(), "checkin_engine"),
		preserve: opts.Preserve,
	}
	if e.preserve == nil {
		e.preserve = preserve.Default()
	}

	redact.SetEnabled(cfg.Privacy.RedactPII)

	obsList := []metrics.Observer{observers.NewLoggerObserver(e.logger)}
	if cfg.Observability.ArtifactsDir != "" {
		e.transcript = observers.NewTranscriptObserver(cfg.Observability.ArtifactsDir)
		obsList = append(obsList, e.transcript)
		if err := os.MkdirAll(cfg.Observability.ArtifactsDir, 0o755); err == nil {
			f, ferr := os.OpenFile(
				filepath.Join(cfg.Observability.ArtifactsDir, observers.MetricsArtifactName),
				os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if ferr == nil {
				e.metricsFile = f
				obsList = append(obsList, metrics.NewJSONLObserver(f))
			}
		}
		retention := time.Duration(cfg.Observability.RetentionHours) * time.Hour
		if n, err := observers.PurgeArtifacts(cfg.Observability.ArtifactsDir, retention); err != nil {
			e.logger.Warn("artifact_purge_failed", slog.String("error", err.Error()))
		} else if n > 0 {
			e.logger.Info("artifacts_purged", slog.Int("removed", n))
		}
	}
	if opts.Observer != nil {
		obsList = append(obsList, opts.Observer)
	}
	e.async = metrics.NewAsyncObserver(metrics.NewMultiObserver(obsList...), cfg.Observability.MetricsBuffer)

	e.liveClient = opts.Live
	if e.liveClient == nil {
		e.liveClient = live.New(live.Config{
			URL:          cfg.Live.URL,
			SessionID:    cfg.Live.SessionID,
			Secret:       cfg.Live.Secret,
			DialTimeout:  time.Duration(cfg.Live.DialTimeoutMS) * time.Millisecond,
			ReadyTimeout: time.Duration(cfg.Live.ReadyTimeoutMS) * time.Millisecond,
		})
	}
	if cfg.Live.RelayEndpoint != "" {
		e.relay = live.NewRelayClient(live.RelayConfig{
			Endpoint: cfg.Live.RelayEndpoint,
			Retry:    resilience.NewRetryPolicy(2, 200*time.Millisecond),
		})
	}

	mic := opts.Capture
	if mic == nil {
		mic = capture.New(capture.Config{
			SampleRate:    cfg.Audio.InputSampleRate,
			Channels:      cfg.Audio.Channels,
			FrameDuration: cfg.frameDuration(),
		})
	}
	play := opts.Playback
	if play == nil {
		play = playback.New(playback.Config{
			SampleRate: cfg.Audio.OutputSampleRate,
			Channels:   cfg.Audio.Channels,
		})
	}

	e.orch = session.NewOrchestrator(session.Options{
		Live:     e.liveClient,
		Capture:  mic,
		Playback: play,
		Store:    opts.Store,
		Observer: e.async,
		Config: session.Config{
			ConnectTimeout:    cfg.connectTimeout(),
			WidgetGraceWindow: cfg.widgetGrace(),
			MaxAssistantChars: cfg.Session.MaxAssistantChars,
			ResumeMarker:      cfg.Session.ResumeMarker,
		},
		// A finished session must never leave a preserved handle behind.
		OnSessionEnd: func(*session.Session) { e.preserve.Clear() },
	})
	return e
}

func (e *Engine) StartSession(ctx context.Context) error {
	return e.orch.StartSession(ctx)
}

func (e *Engine) EndSession(ctx context.Context) error {
	return e.orch.EndSession(ctx)
}

func (e *Engine) CancelSession() {
	e.orch.CancelSession()
}

func (e *Engine) SendTextMessage(text string) error {
	return e.orch.SendTextMessage(text)
}

func (e *Engine) ToggleMute() bool {
	return e.orch.ToggleMute()
}

// PreserveSession detaches the orchestrator and parks the open connection in
// the process-wide slot so a view transition does not tear the channel down.
func (e *Engine) PreserveSession() {
	snap := e.orch.Snapshot()
	fingerprint := e.orch.ContextFingerprint()
	e.orch.Detach()
	e.preserve.Save(e.orch.Client(), snap, fingerprint)
}

// ResumePreservedSession mounts the preserved snapshot back onto this
// engine's orchestrator, handing over the preserved connection so the session
// keeps talking on the channel that survived the view transition. Errors
// (empty slot, dead connection) leave the caller to start a fresh session
// instead.
func (e *Engine) ResumePreservedSession() error {
	slot, err := e.preserve.Resume()
	if err != nil {
		return err
	}
	return e.orch.Restore(slot.Snapshot, slot.Client)
}

func (e *Engine) HasPreservedSession() bool {
	return e.preserve.Has()
}

// SubmitToolResponses forwards widget results to the model via the relay
// side channel.
func (e *Engine) SubmitToolResponses(ctx context.Context, responses []live.FunctionResponse) error {
	if e.relay == nil {
		return nil
	}
	return e.relay.SubmitToolResponses(ctx, e.cfg.Live.SessionID, e.cfg.Live.Secret, responses)
}

// Read-only projections for the UI collaborator.

func (e *Engine) State() session.CheckInState { return e.orch.State() }

func (e *Engine) Error() string { return e.orch.Error() }

func (e *Engine) Messages() []session.Message { return e.orch.Messages() }

func (e *Engine) Widgets() []session.Widget { return e.orch.Widgets() }

func (e *Engine) ConnectionState() live.ConnectionState { return e.orch.ConnectionState() }

func (e *Engine) AudioLevels() session.AudioLevels { return e.orch.AudioLevels() }

func (e *Engine) ContextFingerprint() string { return e.orch.ContextFingerprint() }

func (e *Engine) Muted() bool { return e.orch.Muted() }

// Widget callbacks from the UI.

func (e *Engine) UpdateWidgetStatus(id string, status session.WidgetStatus, result map[string]any) error {
	return e.orch.UpdateWidgetStatus(id, status, result)
}

func (e *Engine) DismissWidget(id string) error {
	return e.orch.DismissWidget(id)
}

// Drain flushes observability and stops background work. Used by the
// lifecycle runner on shutdown.
func (e *Engine) Drain(ctx context.Context) error {
	e.orch.CancelSession()
	e.async.Close()
	var err error
	if e.transcript != nil {
		err = e.transcript.Close()
	}
	if e.metricsFile != nil {
		_ = e.metricsFile.Close()
		e.metricsFile = nil
	}
	return err
}
