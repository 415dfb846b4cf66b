package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velora-health/velora/pkg/audio/pcm"
	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/live"
	"github.com/velora-health/velora/pkg/logging"
	"github.com/velora-health/velora/pkg/metrics"
)

// LiveClient is the live channel surface the orchestrator drives.
type LiveClient interface {
	Connect(ctx context.Context, contextPayload any) error
	Disconnect()
	SendAudio(b64 string) error
	SendText(text string) error
	InjectContext(payload any) error
	EndAudioStream() error
	SetHandler(h live.Handler)
	Healthy() bool
	State() live.ConnectionState
}

// CapturePipeline is the microphone surface.
type CapturePipeline interface {
	Start() error
	Stop()
	ToggleMute() bool
	Muted() bool
	Frames() <-chan []byte
	Level() float64
}

// PlaybackPipeline is the speaker surface.
type PlaybackPipeline interface {
	Initialize() error
	QueueAudio(chunk string) error
	ClearQueue()
	Pause()
	Resume()
	Cleanup()
	Level() float64
}

type Config struct {
	// ConnectTimeout bounds the wait for the live channel, initial and
	// reconnect alike.
	ConnectTimeout time.Duration
	// WidgetGraceWindow is how long after a widget dispatch a disconnect is
	// still treated as a known spurious fault rather than an ending.
	WidgetGraceWindow time.Duration
	// MaxAssistantChars caps an assistant message; older content drops from
	// the front.
	MaxAssistantChars int
	// ResumeMarker is sent as text after a successful reconnect so the
	// model re-orients without the user repeating themselves.
	ResumeMarker string
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.WidgetGraceWindow <= 0 {
		c.WidgetGraceWindow = 8 * time.Second
	}
	if c.MaxAssistantChars <= 0 {
		c.MaxAssistantChars = 16 * 1024
	}
	if c.ResumeMarker == "" {
		c.ResumeMarker = "The connection dropped for a moment. Please continue where we left off."
	}
	return c
}

type Options struct {
	Live     LiveClient
	Capture  CapturePipeline
	Playback PlaybackPipeline
	Store    ContextStore
	Observer metrics.Observer
	Config   Config
	// OnSessionEnd fires after a session completes normally and is
	// persisted. Never invoked for errors or cancellation.
	OnSessionEnd func(*Session)
}

// Orchestrator is the check-in state machine. All state mutations are
// serialized through one mutex; inbound channel events funnel through a
// single dispatch function so ordering is enforced in one place.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
	obs    metrics.Observer
	// frameObs samples frame-cadence observations instead of recording
	// every 20ms frame.
	frameObs metrics.Observer

	liveClient LiveClient
	capture    CapturePipeline
	playback   PlaybackPipeline
	store      ContextStore

	onSessionEnd func(*Session)

	mu               sync.Mutex
	state            CheckInState
	session          *Session
	log              messageLog
	widgets          widgetList
	errMsg           string
	fingerprint      string
	setup            setupPayload
	reconnects       int
	userParticipated bool
	greetingSeen     bool
	silencePending   bool
	lastWidgetAt     time.Time
	mismatchCount    int
	acoustic         map[string]float64
	pumpCancel       context.CancelFunc
}

func NewOrchestrator(opts Options) *Orchestrator {
	obs := opts.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Orchestrator{
		cfg:          opts.Config.withDefaults(),
		logger:       logging.NewComponentLogger(slog.Default(), "orchestrator"),
		obs:          obs,
		frameObs:     metrics.NewSamplingObserver(obs, 0.02),
		liveClient:   opts.Live,
		capture:      opts.Capture,
		playback:     opts.Playback,
		store:        opts.Store,
		onSessionEnd: opts.OnSessionEnd,
		state:        StateIdle,
	}
}

// StartSession runs the full bring-up: context fetch, audio pipelines, then
// the live channel. Capture and playback are up before any audio is sent.
// Returns once the channel is ready or the attempt failed terminally.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("session already active in state %s", o.state)
	}
	o.resetLocked()
	o.session = &Session{ID: uuid.NewString(), StartedAt: time.Now()}
	o.setStateLocked(StateInitializing)
	o.mu.Unlock()

	cc, err := o.store.FetchContext(ctx)
	if err != nil {
		err = errorsx.Wrapf(errorsx.ReasonContextFetch, "context fetch failed: %w", err)
		o.fail(err.Error())
		return err
	}

	o.mu.Lock()
	o.fingerprint = Fingerprint(cc)
	o.setup = newSetupPayload(cc)
	o.setStateLocked(StateConnecting)
	o.mu.Unlock()

	if err := o.capture.Start(); err != nil {
		o.fail(err.Error())
		return err
	}
	if err := o.playback.Initialize(); err != nil {
		o.fail(err.Error())
		return err
	}

	o.live().SetHandler(o.handleEvent)
	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()
	if err := o.live().Connect(cctx, o.setupForConnect()); err != nil {
		msg := err.Error()
		if errorsx.HasReason(err, errorsx.ReasonLiveConnectTimeout) {
			msg = "connection timed out"
		}
		o.fail(msg)
		return err
	}

	o.mu.Lock()
	if o.state == StateConnecting || o.state == StateReady {
		// Model speaks first; user text input stays locked until the
		// first assistant transcript delta arrives.
		o.setStateLocked(StateAIGreeting)
	}
	o.startPumpLocked()
	o.mu.Unlock()
	return nil
}

// live reads the current channel handle under the lock; Restore may swap it
// for a preserved one.
func (o *Orchestrator) live() LiveClient {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.liveClient
}

func (o *Orchestrator) setupForConnect() setupPayload {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setup
}

// EndSession finishes the conversation normally: drain, persist, complete.
func (o *Orchestrator) EndSession(ctx context.Context) error {
	o.mu.Lock()
	if o.session == nil || o.state.terminal() || o.state == StateEnding {
		o.mu.Unlock()
		return errors.New("no active session to end")
	}
	o.setStateLocked(StateEnding)
	o.stopPumpLocked()
	o.mu.Unlock()

	_ = o.live().EndAudioStream()
	o.capture.Stop()
	o.playback.Cleanup()
	o.live().Disconnect()

	o.mu.Lock()
	o.log.finalizeTurn()
	record := o.sessionViewLocked()
	now := time.Now()
	record.EndedAt = &now
	o.mu.Unlock()

	if err := o.store.SaveSession(ctx, &record); err != nil {
		err = errorsx.Wrapf(errorsx.ReasonSessionSave, "session save failed: %w", err)
		o.fail(err.Error())
		return err
	}

	o.mu.Lock()
	o.session.EndedAt = &now
	o.setStateLocked(StateComplete)
	o.record("session_end", map[string]string{"messages": fmt.Sprintf("%d", len(record.Messages))})
	end := o.onSessionEnd
	o.mu.Unlock()

	if end != nil {
		end(&record)
	}
	return nil
}

// CancelSession forces everything back to idle synchronously, with no
// persistence and no partial-cleanup window. Safe from any state, including
// unmount paths.
func (o *Orchestrator) CancelSession() {
	o.mu.Lock()
	o.stopPumpLocked()
	o.mu.Unlock()

	o.live().SetHandler(nil)
	o.live().Disconnect()
	o.capture.Stop()
	o.playback.Cleanup()

	o.mu.Lock()
	o.resetLocked()
	o.setStateLocked(StateIdle)
	o.mu.Unlock()
}

// SendTextMessage injects a typed user message into the live turn. Rejected
// while the opening greeting has not arrived yet.
func (o *Orchestrator) SendTextMessage(text string) error {
	o.mu.Lock()
	if o.session == nil || o.state.terminal() {
		o.mu.Unlock()
		return errors.New("no active session")
	}
	if !o.greetingSeen {
		o.mu.Unlock()
		return errors.New("input locked until the assistant greets")
	}
	o.log.addUserText(text)
	o.userParticipated = true
	o.mu.Unlock()
	return o.live().SendText(text)
}

// ToggleMute flips the microphone and returns the new muted state.
func (o *Orchestrator) ToggleMute() bool {
	return o.capture.ToggleMute()
}

// handleEvent is the single fan-in point for the live channel's event
// surface.
func (o *Orchestrator) handleEvent(ev live.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return
	}

	switch ev.Type {
	case live.EventConnected:
		o.record("live_connected", nil)
	case live.EventReady:
		if o.state == StateConnecting || o.state == StateInitializing {
			o.setStateLocked(StateReady)
		}
	case live.EventUserSpeechStart:
		// Barge-in: stop the model's audio immediately.
		o.playback.ClearQueue()
		o.setStateLocked(StateUserSpeaking)
	case live.EventUserSpeechEnd:
		if o.state == StateUserSpeaking {
			o.setStateLocked(StateProcessing)
		}
	case live.EventModelSpeechStart:
		o.setStateLocked(StateAssistantSpeaking)
	case live.EventModelSpeechEnd:
		if o.state == StateAssistantSpeaking {
			o.setStateLocked(StateListening)
		}
	case live.EventUserTranscript:
		o.userParticipated = true
		msg := o.log.applyUserDelta(ev.Text, ev.IsFinal)
		if o.state == StateListening || o.state == StateReady {
			o.setStateLocked(StateUserSpeaking)
		}
		if ev.IsFinal {
			o.recordWith("message_final", map[string]string{"role": string(RoleUser)},
				map[string]any{"text": msg.Content})
		}
	case live.EventModelTranscript:
		o.greetingSeen = true
		if o.state == StateAIGreeting || o.state == StateReady || o.state == StateProcessing {
			o.setStateLocked(StateAssistantSpeaking)
		}
		msg := o.log.applyModelDelta(ev.Text, ev.Finished, o.silencePending)
		o.silencePending = false
		if ev.Finished {
			o.recordWith("message_final", map[string]string{"role": string(RoleAssistant)},
				map[string]any{"text": msg.Content})
		}
	case live.EventAudioChunk:
		if err := o.playback.QueueAudio(ev.AudioB64); err != nil {
			o.logger.Warn("playback_queue_failed", slog.String("error", err.Error()))
		}
	case live.EventWidget:
		if ev.Widget == nil {
			return
		}
		w := o.widgets.add(ev.Widget)
		o.lastWidgetAt = time.Now()
		o.record("widget_added", map[string]string{"kind": w.Kind})
		o.logger.Info("widget_added", slog.String("widget_id", w.ID), slog.String("kind", w.Kind))
	case live.EventTurnComplete:
		o.log.finalizeTurn()
		if o.state == StateAssistantSpeaking || o.state == StateProcessing {
			o.setStateLocked(StateListening)
		}
		o.record("turn_complete", nil)
	case live.EventSilenceChosen:
		o.silencePending = true
		o.record("silence_chosen", nil)
	case live.EventError:
		o.logger.Warn("live_error", slog.String("reason", ev.Reason))
		o.record("live_error", map[string]string{"reason": ev.Reason})
	case live.EventDisconnected:
		o.handleDisconnectLocked(ev.Reason)
	}
}

func isManualReason(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "manual disconnect")
}

func isNonRecoverableReason(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "invalid argument")
}

func (o *Orchestrator) handleDisconnectLocked(reason string) {
	if isManualReason(reason) {
		o.logger.Debug("disconnect_ignored", slog.String("reason", reason))
		return
	}
	if o.state.terminal() || o.state == StateEnding {
		return
	}
	o.record("disconnect", map[string]string{"reason": reason})

	withinWidgetGrace := !o.lastWidgetAt.IsZero() &&
		time.Since(o.lastWidgetAt) <= o.cfg.WidgetGraceWindow

	switch {
	case !o.userParticipated && !withinWidgetGrace:
		// Nothing to preserve yet: surface the reason verbatim.
		o.failLocked(reason)
	case isNonRecoverableReason(reason):
		o.failLocked(reason)
	case o.reconnects >= 1:
		o.failLocked(reason)
	default:
		o.reconnects++
		o.log.markStreamDetached()
		o.setStateLocked(StateConnecting)
		o.record("reconnect_attempt", nil)
		go o.reconnect()
	}
}

// reconnect runs the single automatic retry after a transient disconnect.
func (o *Orchestrator) reconnect() {
	lc := o.live()
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ConnectTimeout)
	defer cancel()
	err := lc.Connect(ctx, o.setupForConnect())

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.terminal() || o.session == nil {
		return
	}
	if err != nil {
		o.failLocked("reconnect failed: " + err.Error())
		return
	}
	o.setStateLocked(StateListening)
	o.record("reconnected", nil)
	if serr := lc.SendText(o.cfg.ResumeMarker); serr != nil {
		o.logger.Warn("resume_marker_failed", slog.String("error", serr.Error()))
	}
}

func (o *Orchestrator) fail(msg string) {
	o.mu.Lock()
	o.failLocked(msg)
	o.mu.Unlock()
}

// failLocked transitions to the terminal error state and releases every
// owned resource. All audio-device and connection faults normalize into the
// single error field.
func (o *Orchestrator) failLocked(msg string) {
	if o.state.terminal() {
		return
	}
	o.errMsg = msg
	o.setStateLocked(StateError)
	o.stopPumpLocked()
	o.record("session_error", map[string]string{"error": msg})
	o.logger.Error("session_failed", slog.String("error", msg))

	go func() {
		o.capture.Stop()
		o.playback.Cleanup()
		o.live().Disconnect()
	}()
}

func (o *Orchestrator) startPumpLocked() {
	if o.pumpCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.pumpCancel = cancel
	go o.pump(ctx)
}

func (o *Orchestrator) stopPumpLocked() {
	if o.pumpCancel != nil {
		o.pumpCancel()
		o.pumpCancel = nil
	}
}

// pump forwards capture frames to the live channel. Send failures while the
// channel is mid-reconnect drop frames rather than blocking the cadence.
func (o *Orchestrator) pump(ctx context.Context) {
	frames := o.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := o.live().SendAudio(pcm.Encode(frame)); err != nil {
				o.logger.Debug("audio_frame_dropped", slog.String("error", err.Error()))
				continue
			}
			o.frameObs.RecordEvent(metrics.MetricsEvent{
				Name:  "audio_frame_sent",
				Time:  time.Now(),
				Value: float64(len(frame)),
			})
		}
	}
}

func (o *Orchestrator) setStateLocked(next CheckInState) {
	if o.state == next {
		return
	}
	prev := o.state
	o.state = next
	o.record("state_change", map[string]string{"from": string(prev), "to": string(next)})
	o.logger.Info("state_change", slog.String("from", string(prev)), slog.String("to", string(next)))
}

func (o *Orchestrator) record(name string, tags map[string]string) {
	o.recordWith(name, tags, nil)
}

func (o *Orchestrator) recordWith(name string, tags map[string]string, fields map[string]any) {
	if o.session != nil {
		if tags == nil {
			tags = make(map[string]string, 1)
		}
		tags["session_id"] = o.session.ID
	}
	o.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags, Fields: fields})
}

func (o *Orchestrator) resetLocked() {
	o.session = nil
	o.log = newMessageLog(o.cfg.MaxAssistantChars)
	o.widgets = widgetList{}
	o.errMsg = ""
	o.fingerprint = ""
	o.setup = setupPayload{}
	o.reconnects = 0
	o.userParticipated = false
	o.greetingSeen = false
	o.silencePending = false
	o.lastWidgetAt = time.Time{}
	o.mismatchCount = 0
	o.acoustic = nil
}

// sessionViewLocked assembles the full session record from live state.
func (o *Orchestrator) sessionViewLocked() Session {
	s := *o.session
	s.Messages = o.log.snapshot()
	s.Widgets = o.widgets.snapshot()
	s.MismatchCount = o.mismatchCount
	s.AcousticMetrics = o.acoustic
	return s
}

// Projections consumed by the UI collaborator.

func (o *Orchestrator) State() CheckInState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Error() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.log.snapshot()
}

func (o *Orchestrator) Widgets() []Widget {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.widgets.snapshot()
}

func (o *Orchestrator) ConnectionState() live.ConnectionState {
	return o.live().State()
}

func (o *Orchestrator) AudioLevels() AudioLevels {
	return AudioLevels{Input: o.capture.Level(), Output: o.playback.Level()}
}

func (o *Orchestrator) ContextFingerprint() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fingerprint
}

func (o *Orchestrator) Muted() bool {
	return o.capture.Muted()
}

// Client exposes the live handle so the preservation store can detach and
// later reattach without closing the channel.
func (o *Orchestrator) Client() LiveClient {
	return o.live()
}

// UpdateWidgetStatus mutates a widget in place by id.
func (o *Orchestrator) UpdateWidgetStatus(id string, status WidgetStatus, result map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.widgets.updateStatus(id, status, result) {
		return fmt.Errorf("widget %s not found", id)
	}
	o.record("widget_status", map[string]string{"widget_id": id, "status": string(status)})
	return nil
}

// DismissWidget removes a widget. Dismissal never touches conversation state.
func (o *Orchestrator) DismissWidget(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.widgets.dismiss(id) {
		return fmt.Errorf("widget %s not found", id)
	}
	return nil
}

// SetMessageAnalysis attaches the external scorer's output to a message and
// bumps the mismatch counter when flagged.
func (o *Orchestrator) SetMessageAnalysis(messageID string, features, metricValues map[string]float64, mismatch bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.log.indexByID(messageID)
	if i < 0 {
		return fmt.Errorf("message %s not found", messageID)
	}
	msg := &o.log.messages[i]
	msg.Features = features
	msg.Metrics = metricValues
	if mismatch && !msg.Mismatch {
		o.mismatchCount++
	}
	msg.Mismatch = mismatch
	return nil
}

// RecordAcousticMetrics stores session-level scorer output.
func (o *Orchestrator) RecordAcousticMetrics(m map[string]float64) {
	o.mu.Lock()
	o.acoustic = m
	o.mu.Unlock()
}

// Snapshot captures restorable state for preservation. The live channel is
// not part of the snapshot; its handle travels separately.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		Session:          o.sessionViewLocked(),
		State:            o.state,
		Fingerprint:      o.fingerprint,
		UserParticipated: o.userParticipated,
		Reconnects:       o.reconnects,
		GreetingSeen:     o.greetingSeen,
		TakenAt:          time.Now(),
	}
}

// Detach unmounts the orchestrator without touching the live channel: event
// delivery and the audio pump stop, the microphone is released, and the
// machine returns to idle so a later Restore can mount a snapshot. The
// preserved connection survives.
func (o *Orchestrator) Detach() {
	o.mu.Lock()
	o.stopPumpLocked()
	o.mu.Unlock()

	o.live().SetHandler(nil)
	o.capture.Stop()
	o.playback.Pause()

	o.mu.Lock()
	o.resetLocked()
	o.setStateLocked(StateIdle)
	o.mu.Unlock()
}

// Restore mounts a snapshot onto this orchestrator and resumes event
// delivery and audio. A non-nil client is the preserved channel handle and is
// adopted: a freshly mounted orchestrator must send and receive on the
// connection that survived the view transition, not on its own never-opened
// one. The caller has already verified channel health.
func (o *Orchestrator) Restore(snap Snapshot, client LiveClient) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("cannot restore over state %s", o.state)
	}
	if client != nil {
		o.liveClient = client
	}
	o.resetLocked()
	s := snap.Session
	o.session = &s
	o.log.restore(snap.Session.Messages)
	o.widgets.restore(snap.Session.Widgets)
	o.fingerprint = snap.Fingerprint
	o.userParticipated = snap.UserParticipated
	o.reconnects = snap.Reconnects
	o.greetingSeen = snap.GreetingSeen
	o.mismatchCount = snap.Session.MismatchCount
	o.acoustic = snap.Session.AcousticMetrics

	restored := snap.State
	switch restored {
	case StateListening, StateUserSpeaking, StateProcessing, StateAssistantSpeaking, StateAIGreeting, StateReady:
	default:
		restored = StateListening
	}
	o.setStateLocked(restored)
	o.mu.Unlock()

	if err := o.capture.Start(); err != nil {
		o.fail(err.Error())
		return err
	}
	if err := o.playback.Initialize(); err != nil {
		o.fail(err.Error())
		return err
	}
	o.playback.Resume()
	o.live().SetHandler(o.handleEvent)

	o.mu.Lock()
	o.startPumpLocked()
	o.mu.Unlock()
	return nil
}
