package recording

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
	"github.com/yok-tottii/ezs2t-live/internal/audiosession"
	"github.com/yok-tottii/ezs2t-live/internal/level"
	"github.com/yok-tottii/ezs2t-live/internal/logger"
	"github.com/yok-tottii/ezs2t-live/internal/metrics"
	"github.com/yok-tottii/ezs2t-live/internal/permissions"
	"github.com/yok-tottii/ezs2t-live/internal/recognition"
	"github.com/yok-tottii/ezs2t-live/internal/silence"
)

// Deps are the collaborators a Controller drives
type Deps struct {
	Sessions   audiosession.Manager
	Engine     *audio.Engine
	Backend    recognition.Backend
	Authorizer permissions.Authorizer

	Clock   clockwork.Clock  // Default: real clock
	Logger  logger.Interface // Default: discard
	Metrics *metrics.Metrics // Default: unregistered metrics
}

// prep tracks an in-flight Start so Reset can abort it
type prep struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the recording state machine. Every state change happens on
// its coordinator goroutine; capture callbacks, periodic tasks and the
// recognition reader only post work to the coordinator's mailbox.
type Controller struct {
	sessions   audiosession.Manager
	engine     *audio.Engine
	backend    recognition.Backend
	authorizer permissions.Authorizer
	clock      clockwork.Clock
	log        logger.Interface
	metrics    *metrics.Metrics
	config     Config

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the coordinator goroutine
	state      State
	gen        uint64
	session    *Session
	window     *level.Window
	watchdog   *silence.Watchdog
	text       string
	lastOutput *audio.OutputFile
	lastErr    error
	draining   *recognition.Client
	drainTimer clockwork.Timer
	granted    bool
	closed     bool

	prepMu sync.Mutex
	prep   *prep

	pubMu   sync.Mutex
	snap    Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New creates a controller and starts its coordinator goroutine
func New(deps Deps, config Config) (*Controller, error) {
	if deps.Sessions == nil || deps.Engine == nil || deps.Backend == nil || deps.Authorizer == nil {
		return nil, fmt.Errorf("recording: sessions, engine, backend and authorizer are required")
	}

	defaults := DefaultConfig()
	if config.SilenceTimeout <= 0 {
		config.SilenceTimeout = defaults.SilenceTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LevelInterval <= 0 {
		config.LevelInterval = defaults.LevelInterval
	}
	if config.RecordingsDir == "" {
		config.RecordingsDir = defaults.RecordingsDir
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = defaults.FinalizeTimeout
	}

	c := &Controller{
		sessions:   deps.Sessions,
		engine:     deps.Engine,
		backend:    deps.Backend,
		authorizer: deps.Authorizer,
		clock:      deps.Clock,
		log:        deps.Logger,
		metrics:    deps.Metrics,
		config:     config,
		mailbox:    make(chan func(), 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		window:     level.NewWindow(),
		watchdog:   silence.New(config.SilenceTimeout),
		subs:       make(map[int]chan Snapshot),
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = logger.Nop{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NewMetrics(nil)
	}

	c.snap = c.snapshot()
	go c.run()

	return c, nil
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post hands fn to the coordinator. It reports false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.mailbox <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// postCtx is post for periodic tasks, which give up when their context ends
func (c *Controller) postCtx(ctx context.Context, fn func()) {
	select {
	case c.mailbox <- fn:
	case <-ctx.Done():
	case <-c.quit:
	}
}

// call runs fn on the coordinator and waits for it
func (c *Controller) call(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		fn()
		close(finished)
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// RequestPermissions asks for microphone and recognition access in the
// background. The returned channel yields the outcome once it is published.
func (c *Controller) RequestPermissions(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)

	go func() {
		defer close(out)

		res, err := permissions.RequestAll(ctx, c.authorizer)
		if err != nil {
			c.log.Warn("Permission request failed: %v", err)
		}

		granted := res.Granted()
		if !granted {
			c.log.Warn("Permissions not granted (microphone=%s, recognition=%s)", res.Microphone, res.Recognition)
		}

		if err := c.call(func() {
			c.granted = granted
			c.publish()
		}); err != nil {
			return
		}
		out <- granted
	}()

	return out
}

// Start begins a new recording session. It blocks until the session is
// recording or has failed; on failure every acquired resource is released
// before it returns.
func (c *Controller) Start(ctx context.Context) error {
	prepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &prep{cancel: cancel, done: make(chan struct{})}
	defer close(p.done)

	var gen uint64
	var err error
	if callErr := c.call(func() { gen, err = c.begin(p) }); callErr != nil {
		return callErr
	}
	if err != nil {
		return err
	}
	defer c.clearPrep(p)

	sess, stage, err := c.prepare(prepCtx, gen)
	if err != nil {
		if ctxErr := prepCtx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ErrAborted, ctxErr)
		} else {
			c.metrics.RecordSetupFailure(stage)
		}
		_ = c.call(func() { c.fail(gen, err) })
		return err
	}

	if callErr := c.call(func() { err = c.commit(sess) }); callErr != nil {
		c.teardown(sess, true)
		return callErr
	}
	return err
}

func (c *Controller) begin(p *prep) (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if c.state != Idle {
		return 0, fmt.Errorf("%w (current state: %s)", ErrNotIdle, c.state)
	}
	if !c.granted {
		c.metrics.RecordSetupFailure(metrics.StagePermissions)
		return 0, ErrPermissionDenied
	}

	c.prepMu.Lock()
	if c.prep != nil {
		// A reset start is still rolling back
		c.prepMu.Unlock()
		return 0, fmt.Errorf("%w (previous start still aborting)", ErrNotIdle)
	}
	c.prep = p
	c.prepMu.Unlock()

	c.cancelDraining()

	c.gen++
	c.state = Preparing
	c.text = ""
	c.lastErr = nil
	c.lastOutput = nil
	c.publish()

	return c.gen, nil
}

func (c *Controller) clearPrep(p *prep) {
	c.prepMu.Lock()
	defer c.prepMu.Unlock()
	if c.prep == p {
		c.prep = nil
	}
}

// prepare acquires the session resources off the coordinator so a slow
// backend handshake never blocks Reset
func (c *Controller) prepare(ctx context.Context, gen uint64) (*Session, string, error) {
	sess := &Session{
		ID:    uuid.New(),
		gen:   gen,
		meter: level.NewMeter(),
	}

	audioSession, err := c.sessions.Acquire(c.config.Category)
	if err != nil {
		return nil, metrics.StageSession, fmt.Errorf("%w: %w", ErrSessionSetup, err)
	}
	sess.AudioSession = audioSession

	format, err := c.engine.Open()
	if err != nil {
		c.teardown(sess, true)
		return nil, metrics.StageEngine, fmt.Errorf("%w: %w", ErrEngineStart, err)
	}
	sess.Format = format

	if err := ctx.Err(); err != nil {
		c.teardown(sess, true)
		return nil, metrics.StageSession, fmt.Errorf("%w: %w", ErrSessionSetup, err)
	}

	path := filepath.Join(c.config.RecordingsDir, fmt.Sprintf("recording-%s.wav", sess.ID))
	output, err := audio.CreateFile(path, format, c.config.FileQueue)
	if err != nil {
		c.teardown(sess, true)
		return nil, metrics.StageOutput, fmt.Errorf("%w: %w", ErrSessionSetup, err)
	}
	sess.Output = output

	client, err := recognition.Open(ctx, c.backend, recognition.Config{
		Locale:    c.config.Locale,
		QueueSize: c.config.QueueSize,
	}, format, c.handler(gen))
	if err != nil {
		c.teardown(sess, true)
		return nil, metrics.StageRecognition, fmt.Errorf("%w: %w", ErrRecognitionSetup, err)
	}
	sess.Client = client

	return sess, "", nil
}

func (c *Controller) handler(gen uint64) recognition.Handler {
	return recognition.Handler{
		OnResult: func(r recognition.Result) {
			c.post(func() { c.onResult(gen, r) })
		},
		OnError: func(err error) {
			c.post(func() { c.onStreamError(gen, err) })
		},
	}
}

// commit installs the tap and enters Recording
func (c *Controller) commit(sess *Session) error {
	if c.closed || c.gen != sess.gen || c.state != Preparing {
		c.teardown(sess, true)
		return ErrAborted
	}

	sess.StartTime = c.clock.Now()
	sess.capturedBase = c.engine.Captured()

	if _, err := c.engine.Start(sess.Client, sess.meter, sess.Output); err != nil {
		c.teardown(sess, true)
		err = fmt.Errorf("%w: %w", ErrEngineStart, err)
		c.metrics.RecordSetupFailure(metrics.StageEngine)
		c.fail(sess.gen, err)
		return err
	}

	c.session = sess
	c.state = Recording
	c.window.Reset()
	c.watchdog.Reset()

	gen := sess.gen
	sess.levelTask = startTask(c.clock, c.config.LevelInterval, func(ctx context.Context) {
		power := sess.meter.Read()
		c.postCtx(ctx, func() { c.onLevel(gen, power) })
	})
	sess.silenceTask = startTask(c.clock, c.config.PollInterval, func(ctx context.Context) {
		c.postCtx(ctx, func() { c.onSilenceCheck(gen) })
	})

	c.metrics.SessionsStarted.Inc()
	c.log.Info("Recording started (session=%s, format=%dHz/%dch)", sess.ID, sess.Format.SampleRate, sess.Format.Channels)
	c.publish()

	return nil
}

// fail reports a failed start and returns to Idle
func (c *Controller) fail(gen uint64, err error) {
	if gen != c.gen || c.state != Preparing {
		return
	}

	c.log.Error("Failed to start recording: %v", err)
	c.lastErr = err
	c.state = Failed
	c.publish()

	c.state = Idle
	c.publish()
}

func (c *Controller) onResult(gen uint64, r recognition.Result) {
	if gen != c.gen {
		return
	}
	c.metrics.RecordResult(r.IsFinal)

	switch c.state {
	case Recording:
		if r.IsFinal || r.Text != c.text {
			c.watchdog.MarkSpeech(c.clock.Now())
		}
		c.text = r.Text

		if r.IsFinal {
			c.log.Debug("Final result received")
			c.stop(metrics.ReasonFinalResult)
			return
		}
		c.publish()

	case Idle:
		// Late result of the session that was just finalized
		c.text = r.Text
		c.publish()
	}
}

func (c *Controller) onStreamError(gen uint64, err error) {
	if gen != c.gen || c.state != Recording {
		c.log.Debug("Ignoring recognition error after session ended: %v", err)
		return
	}

	c.log.Error("Recognition stream failed: %v", err)
	c.lastErr = fmt.Errorf("%w: %w", ErrRecognitionStream, err)
	c.stop(metrics.ReasonStreamError)
}

func (c *Controller) onLevel(gen uint64, power float64) {
	if gen != c.gen || c.state != Recording {
		return
	}

	v := level.Normalize(power)
	c.window.Push(v)
	c.metrics.Level.Set(v)
	c.publish()
}

func (c *Controller) onSilenceCheck(gen uint64) {
	if gen != c.gen || c.state != Recording {
		return
	}

	if c.watchdog.Check(c.clock.Now()) {
		c.log.Debug("Silence timeout (%v) reached", c.watchdog.Timeout())
		c.stop(metrics.ReasonSilence)
	}
}

// Stop ends the current session gracefully. It is a no-op unless recording.
func (c *Controller) Stop() {
	_ = c.call(func() { c.stop(metrics.ReasonManual) })
}

func (c *Controller) stop(reason string) {
	if c.state != Recording {
		return
	}

	sess := c.session
	c.state = Stopping
	c.publish()

	out, err := c.teardown(sess, false)
	if err != nil {
		c.log.Warn("Teardown finished with errors: %v", err)
	}

	c.session = nil
	c.lastOutput = out
	c.drain(sess.Client)
	c.window.Reset()
	c.watchdog.Reset()
	c.state = Idle

	duration := c.clock.Since(sess.StartTime)
	c.metrics.RecordStop(reason, duration.Seconds())
	c.log.Info("Recording stopped (session=%s, reason=%s, duration=%v)", sess.ID, reason, duration)
	c.publish()
}

// teardown releases everything sess holds, in order: capture, recognition,
// tasks, output file, audio session. With discard the recognition stream is
// canceled and the file deleted instead of finalized and persisted.
func (c *Controller) teardown(sess *Session, discard bool) (*audio.OutputFile, error) {
	var errs []error

	if err := c.engine.Stop(); err != nil {
		errs = append(errs, err)
	}

	if sess.Client != nil {
		if discard {
			sess.Client.Cancel()
		} else {
			sess.Client.Finalize()
		}
		c.metrics.RecordDropped(metrics.SinkRecognition, sess.Client.Dropped())
	}

	sess.stopTasks()

	var out *audio.OutputFile
	if sess.Output != nil {
		c.metrics.RecordDropped(metrics.SinkFile, sess.Output.Dropped())
		if discard {
			if err := sess.Output.Discard(); err != nil {
				errs = append(errs, err)
			}
		} else {
			file, err := sess.Output.Close()
			if err != nil {
				errs = append(errs, err)
			}
			out = &file
		}
	}

	if sess.AudioSession != nil {
		if err := c.sessions.Release(sess.AudioSession); err != nil {
			errs = append(errs, err)
		}
	}

	if captured := c.engine.Captured(); captured > sess.capturedBase {
		c.metrics.BuffersCaptured.Add(float64(captured - sess.capturedBase))
		sess.capturedBase = captured
	}

	return out, errors.Join(errs...)
}

// drain holds on to a finalized client so that late results can still be
// read. It is canceled by the next Start, by Reset, or once FinalizeTimeout
// has passed.
func (c *Controller) drain(client *recognition.Client) {
	c.cancelDraining()
	if client == nil {
		return
	}

	c.draining = client
	c.drainTimer = c.clock.AfterFunc(c.config.FinalizeTimeout, func() {
		c.post(func() {
			if c.draining == client {
				c.log.Debug("Recognition stream did not end within %v, canceling", c.config.FinalizeTimeout)
				c.cancelDraining()
			}
		})
	})
}

func (c *Controller) cancelDraining() {
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}
	if c.draining != nil {
		c.draining.Cancel()
		c.draining = nil
	}
}

// Reset aborts whatever is in progress, discards the session and its file,
// and returns to Idle. It always succeeds. A Start that is still preparing
// is canceled, and Reset returns only after it has rolled back.
func (c *Controller) Reset() {
	var p *prep
	_ = c.call(func() { p = c.reset() })

	if p != nil {
		<-p.done
	}
}

// reset runs on the coordinator. It returns the in-flight Start, if any,
// whose rollback the caller must wait for.
func (c *Controller) reset() *prep {
	c.prepMu.Lock()
	p := c.prep
	c.prepMu.Unlock()
	if p != nil {
		p.cancel()
	}

	c.gen++
	c.cancelDraining()

	if sess := c.session; sess != nil {
		if _, err := c.teardown(sess, true); err != nil {
			c.log.Warn("Reset cleanup finished with errors: %v", err)
		}
		c.session = nil
		c.metrics.RecordStop(metrics.ReasonReset, c.clock.Since(sess.StartTime).Seconds())
		c.log.Info("Recording reset (session=%s)", sess.ID)
	} else if err := c.engine.Stop(); err != nil {
		c.log.Warn("Failed to stop capture engine: %v", err)
	}

	if c.lastOutput != nil {
		if err := audio.RemoveFile(c.lastOutput.Path); err != nil {
			c.log.Warn("Failed to delete recording: %v", err)
		}
		c.lastOutput = nil
	}

	c.text = ""
	c.lastErr = nil
	c.window.Reset()
	c.watchdog.Reset()
	c.state = Idle
	c.publish()

	return p
}

// Close resets the controller and stops its coordinator
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.Reset()
		_ = c.call(func() { c.closed = true })
		close(c.quit)
		<-c.done
	})
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:              c.state,
		Text:               c.text,
		Levels:             c.window.Samples(),
		PermissionsGranted: c.granted,
		LastError:          c.lastErr,
	}
	if c.session != nil {
		snap.SessionID = c.session.ID.String()
		snap.StartedAt = c.session.StartTime
	}
	if c.lastOutput != nil {
		out := *c.lastOutput
		snap.Output = &out
	}
	return snap
}

// publish replaces the current snapshot and notifies subscribers, dropping
// any snapshot a slow subscriber has not read yet
func (c *Controller) publish() {
	snap := c.snapshot()
	c.metrics.State.Set(float64(snap.State))

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.snap = snap
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Subscribe returns a channel that always holds the latest snapshot.
// Call cancel to stop receiving.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.pubMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snap
	c.pubMu.Unlock()

	cancel := func() {
		c.pubMu.Lock()
		defer c.pubMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Snapshot returns the latest published state
func (c *Controller) Snapshot() Snapshot {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.snap
}

// State returns the current recording state
func (c *Controller) State() State {
	return c.Snapshot().State
}

// Text returns the latest transcription text
func (c *Controller) Text() string {
	return c.Snapshot().Text
}

// Levels returns the level window, oldest first
func (c *Controller) Levels() [level.WindowSize]float64 {
	return c.Snapshot().Levels
}

// Output returns the last persisted recording, or nil
func (c *Controller) Output() *audio.OutputFile {
	return c.Snapshot().Output
}

// PermissionsGranted reports the outcome of the last RequestPermissions
func (c *Controller) PermissionsGranted() bool {
	return c.Snapshot().PermissionsGranted
}

// Devices lists the capture devices. The driver is only usable while an
// audio session is held, so one is acquired for the duration of the call.
func (c *Controller) Devices() ([]audio.Device, error) {
	sess, err := c.sessions.Acquire(c.config.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionSetup, err)
	}
	defer func() {
		if err := c.sessions.Release(sess); err != nil {
			c.log.Warn("Failed to release audio session: %v", err)
		}
	}()

	return c.engine.Devices()
}
