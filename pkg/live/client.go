// Package live implements the websocket client for the realtime voice relay.
// It hides connection plumbing behind a small surface: connect once, receive
// events through a single handler, send audio and text when the channel is
// ready.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/logging"
)

const (
	headerSessionID     = "X-Session-ID"
	headerSessionSecret = "X-Session-Secret"
)

type Config struct {
	URL       string
	SessionID string
	Secret    string
	// DialTimeout bounds the retried dial phase of a single Connect.
	DialTimeout time.Duration
	// ReadyTimeout bounds the wait for the remote ready signal after the
	// socket is up. Connect also respects its context deadline.
	ReadyTimeout time.Duration
	// WriteTimeout applies to every outbound frame.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// connectAttempt is the single-flight handle: concurrent Connect callers wait
// on the same attempt instead of dialing again.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client maintains one websocket connection to the relay. All inbound traffic
// is translated into Events and pushed through the attached handler; the
// zero-handler state drops events without blocking the read loop.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	state       ConnectionState
	inflight    *connectAttempt
	handler     Handler
	gen         int
	manualClose bool

	writeMu sync.Mutex
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logging.NewComponentLogger(slog.Default(), "live_client"),
		state:  StateIdle,
	}
}

// SetHandler attaches the event consumer. Passing nil detaches the current
// consumer; the connection stays up and events are dropped until a new
// handler is attached.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Healthy reports whether the channel is up and accepted by the remote side.
func (c *Client) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady && c.conn != nil
}

// Connect establishes the channel and resolves only once the remote side
// signals ready. Concurrent callers share a single attempt; none of them
// trigger a second dial. contextPayload is serialized into the setup message
// so the model opens with full conversation context.
func (c *Client) Connect(ctx context.Context, contextPayload any) error {
	c.mu.Lock()
	if c.state == StateReady && c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if a := c.inflight; a != nil {
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return errorsx.Wrap(ctx.Err(), errorsx.ReasonLiveConnectTimeout)
		}
	}
	a := &connectAttempt{done: make(chan struct{})}
	c.inflight = a
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.connect(ctx, contextPayload)

	c.mu.Lock()
	c.inflight = nil
	if err != nil && c.state == StateConnecting {
		c.state = StateError
	}
	c.mu.Unlock()

	a.err = err
	close(a.done)
	return err
}

func (c *Client) connect(ctx context.Context, contextPayload any) error {
	header := http.Header{}
	header.Set(headerSessionID, c.cfg.SessionID)
	// Secret travels in a header only, never in the URL.
	header.Set(headerSessionSecret, c.cfg.Secret)

	var conn *websocket.Conn
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = c.cfg.DialTimeout
	dial := func() error {
		var err error
		conn, _, err = c.dialer.DialContext(ctx, c.cfg.URL, header)
		return err
	}
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return errorsx.Wrapf(errorsx.ReasonLiveConnect, "live channel dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.manualClose = false
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("live_connected", slog.String("session_id", c.cfg.SessionID))
	c.dispatch(Event{Type: EventConnected})

	setup := clientMessage{Type: clientSetup}
	if contextPayload != nil {
		raw, err := json.Marshal(contextPayload)
		if err != nil {
			c.teardown(conn)
			return errorsx.Wrapf(errorsx.ReasonLiveConnect, "setup context marshal failed: %w", err)
		}
		setup.Context = raw
	}
	if err := c.write(conn, setup); err != nil {
		c.teardown(conn)
		return errorsx.Wrapf(errorsx.ReasonLiveConnect, "setup send failed: %w", err)
	}

	readyCh := make(chan error, 1)
	go c.readLoop(conn, gen, readyCh)

	readyTimer := time.NewTimer(c.cfg.ReadyTimeout)
	defer readyTimer.Stop()
	select {
	case err := <-readyCh:
		if err != nil {
			return errorsx.Wrapf(errorsx.ReasonLiveConnect, "live channel rejected: %w", err)
		}
		return nil
	case <-readyTimer.C:
		c.teardown(conn)
		return errorsx.Wrap(errors.New("timed out waiting for ready"), errorsx.ReasonLiveConnectTimeout)
	case <-ctx.Done():
		c.teardown(conn)
		return errorsx.Wrap(ctx.Err(), errorsx.ReasonLiveConnectTimeout)
	}
}

// Disconnect tears the channel down locally. Idempotent; the resulting
// disconnect event carries ManualDisconnectReason so consumers know not to
// react.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		if c.state != StateIdle && c.state != StateError {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return
	}
	c.manualClose = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()
	_ = conn.Close()
}

// SendAudio streams one base64 PCM16 frame. Rejected until the channel is
// ready.
func (c *Client) SendAudio(b64 string) error {
	return c.send(clientMessage{Type: clientAudio, Audio: b64})
}

// SendText injects a typed user message into the live turn.
func (c *Client) SendText(text string) error {
	return c.send(clientMessage{Type: clientText, Text: text})
}

// InjectContext pushes supplemental context mid-session.
func (c *Client) InjectContext(payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errorsx.Wrapf(errorsx.ReasonLiveSend, "context marshal failed: %w", err)
	}
	return c.send(clientMessage{Type: clientContext, Context: raw})
}

// EndAudioStream tells the relay no further audio follows in this turn.
func (c *Client) EndAudioStream() error {
	return c.send(clientMessage{Type: clientAudioEnd})
}

func (c *Client) send(msg clientMessage) error {
	c.mu.Lock()
	conn := c.conn
	ready := c.state == StateReady
	c.mu.Unlock()
	if !ready || conn == nil {
		return errorsx.Wrapf(errorsx.ReasonLiveNotReady, "live channel not ready for %q", msg.Type)
	}
	if err := c.write(conn, msg); err != nil {
		return errorsx.Wrapf(errorsx.ReasonLiveSend, "live send %q failed: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) write(conn *websocket.Conn, msg clientMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(msg)
}

// teardown closes a half-established connection without emitting a
// disconnect event for it; the read loop for a stale generation stays quiet.
func (c *Client) teardown(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.gen++
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, gen int, readyCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.finishRead(conn, gen, err, readyCh)
			return
		}
		var msg serverMessage
		if uerr := json.Unmarshal(data, &msg); uerr != nil {
			c.logger.Warn("live_bad_frame", slog.String("error", uerr.Error()))
			continue
		}
		if msg.Type == serverGoodbye {
			c.finishRead(conn, gen, errors.New(msg.Reason), readyCh)
			_ = conn.Close()
			return
		}
		c.handleServerMessage(msg, readyCh)
	}
}

// finishRead converts a terminated read loop into exactly one disconnect
// event, with the reason a consumer can classify. A loop whose generation was
// superseded stays silent.
func (c *Client) finishRead(conn *websocket.Conn, gen int, err error, readyCh chan<- error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	manual := c.manualClose
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	reason := "connection closed"
	switch {
	case manual:
		reason = ManualDisconnectReason
	case err != nil:
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Text != "" {
			reason = ce.Text
		} else {
			reason = err.Error()
		}
	}

	select {
	case readyCh <- fmt.Errorf("closed before ready: %s", reason):
	default:
	}
	c.logger.Info("live_disconnected", slog.String("reason", reason))
	c.dispatch(Event{Type: EventDisconnected, Reason: reason})
}

func (c *Client) handleServerMessage(msg serverMessage, readyCh chan<- error) {
	switch msg.Type {
	case serverReady:
		c.mu.Lock()
		if c.state == StateConnected {
			c.state = StateReady
		}
		c.mu.Unlock()
		select {
		case readyCh <- nil:
		default:
		}
		c.dispatch(Event{Type: EventReady})
	case serverUserTranscript:
		c.dispatch(Event{Type: EventUserTranscript, Text: msg.Text, IsFinal: msg.Final})
	case serverModelTranscript:
		c.dispatch(Event{Type: EventModelTranscript, Text: msg.Text, Finished: msg.Finished})
	case serverAudio:
		c.dispatch(Event{Type: EventAudioChunk, AudioB64: msg.Audio})
	case serverWidget:
		if msg.Widget == nil {
			return
		}
		c.dispatch(Event{Type: EventWidget, Widget: &WidgetEvent{
			ID:   msg.Widget.ID,
			Kind: msg.Widget.Kind,
			Args: msg.Widget.Args,
		}})
	case serverTurnComplete:
		c.dispatch(Event{Type: EventTurnComplete})
	case serverSpeechStart:
		if msg.Speaker == speakerModel {
			c.dispatch(Event{Type: EventModelSpeechStart})
		} else {
			c.dispatch(Event{Type: EventUserSpeechStart})
		}
	case serverSpeechEnd:
		if msg.Speaker == speakerModel {
			c.dispatch(Event{Type: EventModelSpeechEnd})
		} else {
			c.dispatch(Event{Type: EventUserSpeechEnd})
		}
	case serverSilence:
		c.dispatch(Event{Type: EventSilenceChosen})
	case serverError:
		c.dispatch(Event{Type: EventError, Err: errors.New(msg.Message), Reason: msg.Message})
	default:
		c.logger.Debug("live_unknown_message", slog.String("type", msg.Type))
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
