package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kitchen-voice/internal/domain"
)

// unintelligibleLimit is how many below-threshold results in a row are
// surfaced to the host as an error.
const unintelligibleLimit = 3

// releaseTimeout bounds how long stopping a backend waits for it to hand
// the audio stream back.
const releaseTimeout = 2 * time.Second

// Dependencies are the collaborators an Engine drives. Speaker, Notifier
// and Observer are optional.
type Dependencies struct {
	Capture    AudioCapture
	Wake       WakeWordBackend
	Recognizer CommandRecognizer
	Parser     CommandParser
	Speaker    Speaker
	Notifier   Notifier
	Observer   Observer
}

// PendingConfirmation exists only while the engine is Confirming.
type PendingConfirmation struct {
	Command  domain.VoiceCommand
	IssuedAt time.Time
	Timeout  time.Duration
}

// Engine is the voice command session state machine. All session state is
// owned by a single goroutine that consumes the events channel; recognizer
// output and timers reach it as events tagged with the generation they
// were started in, and events from an older generation are dropped.
//
// Handlers registered with the On* methods run on that goroutine in
// registration order. They must not call back into the Engine synchronously.
type Engine struct {
	cfg        EngineConfig
	capture    AudioCapture
	wake       WakeWordBackend
	recognizer CommandRecognizer
	parser     CommandParser
	speaker    Speaker
	notifier   Notifier
	observer   Observer
	logger     *slog.Logger

	events      chan event
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	destroyOnce sync.Once
	state       atomic.Int32

	mu              sync.RWMutex
	wakeHandlers    []func()
	commandHandlers []func(domain.VoiceCommand)
	statusHandlers  []func(string)
	errorHandlers   []func(string)

	// Everything below is touched only by the event loop.
	gen            uint64
	runCtx         context.Context
	runCancel      context.CancelFunc
	captureStarted bool
	wakeRun        *runner
	listenRun      *runner
	timer          *time.Timer
	numbers        domain.OrderNumberMap
	session        string
	sessionLog     *slog.Logger
	heard          Transcript
	pending        *PendingConfirmation
	restarts       int
	lowConfidence  int
}

func NewEngine(cfg EngineConfig, deps Dependencies, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Capture == nil || deps.Wake == nil || deps.Recognizer == nil || deps.Parser == nil {
		return nil, fmt.Errorf("engine dependencies: capture, wake backend, recognizer and parser are required")
	}
	if deps.Speaker == nil {
		deps.Speaker = NoopSpeaker{}
	}
	if deps.Notifier == nil {
		deps.Notifier = &NoopNotifier{}
	}
	if deps.Observer == nil {
		deps.Observer = NoopObserver{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		cfg:        cfg,
		capture:    deps.Capture,
		wake:       deps.Wake,
		recognizer: deps.Recognizer,
		parser:     deps.Parser,
		speaker:    deps.Speaker,
		notifier:   deps.Notifier,
		observer:   deps.Observer,
		logger:     logger,
		events:     make(chan event, 64),
		done:       make(chan struct{}),
		numbers:    domain.BuildOrderNumberMap(nil),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.sessionLog = logger
	e.transition(domain.StateIdle)

	go e.loop()

	return e, nil
}

// StartListening arms the wake-word detector. It reports false when the
// engine could not be armed, for example because microphone access was
// denied. Calling it while already listening is a no-op.
func (e *Engine) StartListening(ctx context.Context) (bool, error) {
	if err := e.call(ctx, event{kind: evStart}); err != nil {
		return false, err
	}
	return true, nil
}

// StopListening halts every recognizer, cancels pending timers and moves
// the engine to Stopped. StartListening may be called again afterwards.
func (e *Engine) StopListening() {
	_ = e.call(context.Background(), event{kind: evStop})
}

// Destroy stops the engine and releases the audio device. The engine cannot
// be restarted.
func (e *Engine) Destroy() {
	e.destroyOnce.Do(func() {
		_ = e.call(context.Background(), event{kind: evDestroy})
		<-e.done
	})
}

// UpdateOrderNumbers rebuilds the spoken order numbering from a fresh
// snapshot. It returns once the engine is using the new numbering.
func (e *Engine) UpdateOrderNumbers(orders []domain.Order) {
	_ = e.call(context.Background(), event{kind: evOrders, numbers: domain.BuildOrderNumberMap(orders)})
}

func (e *Engine) OnWakeWord(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wakeHandlers = append(e.wakeHandlers, fn)
}

func (e *Engine) OnCommand(fn func(domain.VoiceCommand)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commandHandlers = append(e.commandHandlers, fn)
}

func (e *Engine) OnStatusChanged(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statusHandlers = append(e.statusHandlers, fn)
}

func (e *Engine) OnErrorOccurred(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHandlers = append(e.errorHandlers, fn)
}

func (e *Engine) State() domain.EngineState {
	return domain.EngineState(e.state.Load())
}

func (e *Engine) Config() EngineConfig {
	return e.cfg
}

func (e *Engine) call(ctx context.Context, ev event) error {
	ev.reply = make(chan error, 1)
	select {
	case e.events <- ev:
	case <-e.done:
		return ErrEngineDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.reply:
		return err
	case <-e.done:
		return ErrEngineDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) post(ctx context.Context, ev event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	case <-e.done:
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		ev := <-e.events
		if exit := e.handle(ev); exit {
			return
		}
	}
}

func (e *Engine) handle(ev event) bool {
	switch ev.kind {
	case evStart:
		ev.reply <- e.start()
		return false
	case evStop:
		e.stop()
		ev.reply <- nil
		return false
	case evDestroy:
		e.stop()
		if err := e.capture.Close(); err != nil {
			e.logger.Warn("closing audio capture", "error", err)
		}
		e.cancel()
		ev.reply <- nil
		return true
	case evOrders:
		e.numbers = ev.numbers
		e.logger.Debug("order numbers updated", "count", ev.numbers.Len())
		ev.reply <- nil
		return false
	}

	if ev.gen != e.gen {
		return false
	}

	switch ev.kind {
	case evWake:
		e.onWake(ev.wake)
	case evWakeClosed:
		_ = e.onWakeFailure(errors.New("wake word detector stopped unexpectedly"))
	case evWakeRestart:
		e.onWakeRestart()
	case evTranscript:
		e.onTranscript(ev.transcript)
	case evListenClosed:
		e.onListenClosed()
	case evCommandTimeout:
		e.onCommandTimeout()
	case evParsed:
		e.onParsed(ev.text, ev.result)
	case evPromptSpoken:
		e.onPromptSpoken()
	case evConfirmTimeout:
		e.onConfirmTimeout()
	}
	return false
}

func (e *Engine) start() error {
	switch e.State() {
	case domain.StateWakeArmed, domain.StateCommandListening, domain.StateConfirming:
		return nil
	case domain.StateStopped:
		e.transition(domain.StateIdle)
	}

	if !e.captureStarted {
		if err := e.capture.Start(e.ctx); err != nil {
			err = fmt.Errorf("starting audio capture: %w", err)
			e.fail(err)
			return err
		}
		e.captureStarted = true
	}
	e.capture.Resume()

	e.runCtx, e.runCancel = context.WithCancel(e.ctx)
	e.restarts = 0
	e.lowConfidence = 0

	e.logger.Info("voice engine listening",
		"capture", e.capture.Name(),
		"wake_backend", e.wake.Name(),
		"wake_word", e.cfg.WakeWord,
	)

	return e.arm()
}

func (e *Engine) stop() {
	e.halt()
	e.pending = nil
	e.session = ""
	e.sessionLog = e.logger
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	if e.captureStarted {
		e.capture.Suspend()
	}
	if e.State() != domain.StateStopped {
		e.transition(domain.StateStopped)
		e.status("Voice control stopped")
	}
}

// fail deactivates the engine and surfaces err to the host.
func (e *Engine) fail(err error) {
	e.logger.Error("voice engine deactivated", "error", err)
	e.stop()
	msg := err.Error()
	if errors.Is(err, ErrPermissionDenied) {
		msg = ErrPermissionDenied.Error()
	}
	e.raiseError(msg)
}

// halt stops whichever recognizer is running, cancels the pending timer and
// starts a new generation.
func (e *Engine) halt() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.wakeRun != nil {
		e.wakeRun.stop()
		e.wakeRun = nil
	}
	if e.listenRun != nil {
		e.listenRun.stop()
		e.listenRun = nil
	}
}

func (e *Engine) armTimer(d time.Duration, kind eventKind) {
	if e.timer != nil {
		e.timer.Stop()
	}
	ev := event{kind: kind, gen: e.gen}
	e.timer = time.AfterFunc(d, func() {
		e.post(e.ctx, ev)
	})
}

func (e *Engine) transition(to domain.EngineState) {
	from := e.State()
	if from == to {
		return
	}
	e.state.Store(int32(to))
	e.sessionLog.Debug("state transition", "from", from.String(), "to", to.String())
	e.observer.StateChanged(from, to)
}

func (e *Engine) status(msg string) {
	e.mu.RLock()
	handlers := e.statusHandlers
	e.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func (e *Engine) raiseError(msg string) {
	e.mu.RLock()
	handlers := e.errorHandlers
	e.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}

	go func() {
		if err := e.notifier.Notify(e.ctx, "Kitchen voice: "+msg); err != nil {
			e.logger.Error("notifying error", "error", err)
		}
	}()
}

// speak plays text in the background. When then is not evNone, that event
// is posted once playback ends, whether or not it succeeded.
func (e *Engine) speak(text string, then eventKind) {
	ctx := e.runCtx
	if ctx == nil {
		return
	}
	ev := event{kind: then, gen: e.gen}
	log := e.sessionLog
	go func() {
		if err := e.speaker.Speak(ctx, text); err != nil && ctx.Err() == nil {
			log.Warn("speaking response", "error", err)
		}
		if then != evNone {
			e.post(ctx, ev)
		}
	}()
}

type eventKind int

const (
	evNone eventKind = iota
	evStart
	evStop
	evDestroy
	evOrders
	evWake
	evWakeClosed
	evWakeRestart
	evTranscript
	evListenClosed
	evCommandTimeout
	evParsed
	evPromptSpoken
	evConfirmTimeout
)

type event struct {
	kind       eventKind
	gen        uint64
	wake       WakeEvent
	transcript Transcript
	text       string
	result     domain.CommandResult
	numbers    domain.OrderNumberMap
	reply      chan error
}

// runner is a forwarding goroutine bridging a backend channel onto the
// event loop.
type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runner) stop() {
	r.cancel()
	<-r.done
}

func forward[T any](e *Engine, ctx context.Context, cancel context.CancelFunc, src <-chan T, wrap func(T) event, closed event) *runner {
	r := &runner{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				drain(src)
				return
			case v, ok := <-src:
				if !ok {
					e.post(ctx, closed)
					return
				}
				e.post(ctx, wrap(v))
			}
		}
	}()
	return r
}

func drain[T any](src <-chan T) {
	t := time.NewTimer(releaseTimeout)
	defer t.Stop()
	for {
		select {
		case _, ok := <-src:
			if !ok {
				return
			}
		case <-t.C:
			return
		}
	}
}
