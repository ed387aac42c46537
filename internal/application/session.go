package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kitchen-voice/internal/domain"
)

// arm ends the current session and returns to wake-word listening.
func (e *Engine) arm() error {
	e.halt()
	e.pending = nil
	e.session = ""
	e.sessionLog = e.logger
	e.transition(domain.StateWakeArmed)
	e.status("Listening for wake word")
	return e.startWake()
}

func (e *Engine) startWake() error {
	ctx, cancel := context.WithCancel(e.runCtx)
	ch, err := e.wake.Detect(ctx, e.capture.Frames(), e.cfg.wakeOptions())
	if err != nil {
		cancel()
		return e.onWakeFailure(fmt.Errorf("starting wake word detector: %w", err))
	}

	gen := e.gen
	e.wakeRun = forward(e, ctx, cancel, ch,
		func(w WakeEvent) event { return event{kind: evWake, gen: gen, wake: w} },
		event{kind: evWakeClosed, gen: gen},
	)
	return nil
}

// onWakeFailure restarts the detector after a fixed delay. Permission
// errors and exhausted restarts deactivate the engine, in which case the
// error is returned.
func (e *Engine) onWakeFailure(err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		e.fail(err)
		return err
	}

	e.halt()
	e.restarts++
	if e.restarts > e.cfg.WakeMaxRestarts {
		err = fmt.Errorf("wake word detector failed after %d restarts: %w", e.cfg.WakeMaxRestarts, err)
		e.fail(err)
		return err
	}

	e.logger.Warn("wake word detector error, restarting",
		"error", err,
		"attempt", e.restarts,
		"delay", e.cfg.WakeRestartDelay(),
	)
	e.observer.WakeRestarted(e.wake.Name())
	e.armTimer(e.cfg.WakeRestartDelay(), evWakeRestart)
	return nil
}

func (e *Engine) onWakeRestart() {
	if e.State() != domain.StateWakeArmed || e.wakeRun != nil {
		return
	}
	_ = e.startWake()
}

func (e *Engine) onWake(w WakeEvent) {
	if w.Err != nil {
		_ = e.onWakeFailure(w.Err)
		return
	}
	// A wake word heard mid-session is ignored.
	if e.State() != domain.StateWakeArmed {
		return
	}

	e.halt()
	e.restarts = 0
	e.session = uuid.NewString()
	e.sessionLog = e.logger.With("session", e.session)
	e.sessionLog.Info("wake word detected", "phrase", w.Phrase, "confidence", w.Confidence)
	e.observer.SessionStarted(e.session)

	e.mu.RLock()
	handlers := e.wakeHandlers
	e.mu.RUnlock()
	for _, h := range handlers {
		h()
	}

	e.transition(domain.StateCommandListening)
	e.status("Listening for command...")
	e.armTimer(e.cfg.CommandTimeout(), evCommandTimeout)
	e.startListener()
}

func (e *Engine) startListener() {
	if n := e.capture.Flush(); n > 0 {
		e.sessionLog.Debug("discarded stale audio", "frames", n)
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	ch, err := e.recognizer.Listen(ctx, e.capture.Frames(), e.cfg.listenOptions())
	if err != nil {
		cancel()
		e.onListenFailure(fmt.Errorf("starting recognizer: %w", err))
		return
	}

	gen := e.gen
	e.listenRun = forward(e, ctx, cancel, ch,
		func(t Transcript) event { return event{kind: evTranscript, gen: gen, transcript: t} },
		event{kind: evListenClosed, gen: gen},
	)
}

func (e *Engine) onListenFailure(err error) {
	if errors.Is(err, ErrPermissionDenied) {
		e.fail(err)
		return
	}
	e.sessionLog.Warn("recognizer error, ending session", "error", err, "state", e.State().String())
	if e.pending != nil {
		e.observer.CommandRejected("recognizer_error")
	}
	_ = e.arm()
}

func (e *Engine) onTranscript(t Transcript) {
	if t.Err != nil {
		e.onListenFailure(t.Err)
		return
	}

	switch e.State() {
	case domain.StateCommandListening:
		if !t.Final {
			if text := strings.TrimSpace(t.Text); text != "" {
				e.status("Heard: " + text)
			}
			return
		}
		e.halt()
		e.heard = t
		text := strings.TrimSpace(t.Text)
		if text == "" && len(t.Alternatives) == 0 {
			e.onParsed("", domain.Unknown(""))
			return
		}
		e.status("Processing: " + text)
		e.parse(t)

	case domain.StateConfirming:
		if !t.Final {
			return
		}
		e.halt()
		e.resolveConfirmation(t.Text)
	}
}

// parse runs the parser off the event loop. Every alternative is tried and
// the most confident reading wins, earlier alternatives on ties.
func (e *Engine) parse(t Transcript) {
	gen := e.gen
	numbers := e.numbers
	runCtx := e.runCtx
	ctx, cancel := context.WithTimeout(runCtx, e.cfg.CommandTimeout())

	candidates := []string{strings.TrimSpace(t.Text)}
	for _, alt := range t.Alternatives {
		if text := strings.TrimSpace(alt.Text); text != "" && text != candidates[0] {
			candidates = append(candidates, text)
		}
	}

	go func() {
		defer cancel()
		var (
			best     domain.CommandResult
			bestText string
		)
		for _, text := range candidates {
			if text == "" {
				continue
			}
			res := e.parser.Parse(ctx, text, numbers)
			if bestText == "" || res.Confidence > best.Confidence {
				best, bestText = res, text
			}
			if best.Action != domain.ActionUnknown && best.Confidence >= e.cfg.ConfidenceThreshold {
				break
			}
		}
		e.post(runCtx, event{kind: evParsed, gen: gen, text: bestText, result: best})
	}()
}

func (e *Engine) onListenClosed() {
	switch e.State() {
	case domain.StateCommandListening:
		e.sessionLog.Info("recognizer session ended without a command")
		_ = e.arm()
	case domain.StateConfirming:
		if e.listenRun == nil {
			return
		}
		e.halt()
		e.resolveConfirmation("")
	}
}

func (e *Engine) onCommandTimeout() {
	if e.State() != domain.StateCommandListening {
		return
	}
	e.sessionLog.Info("command window timed out", "timeout", e.cfg.CommandTimeout())
	e.observer.CommandRejected("timeout")
	e.status("No command heard")
	_ = e.arm()
}

func (e *Engine) onParsed(text string, res domain.CommandResult) {
	if e.State() != domain.StateCommandListening {
		return
	}
	if text == "" {
		text = strings.TrimSpace(e.heard.Text)
	}

	res = res.Normalize()
	if res.OriginalText == "" {
		res.OriginalText = text
	}
	cmd := domain.VoiceCommand{
		CommandResult:        res,
		Transcript:           text,
		RecognizerConfidence: e.heard.Confidence,
		SessionID:            e.session,
	}

	e.sessionLog.Info("command parsed",
		"text", text,
		"action", cmd.Action,
		"confidence", cmd.Confidence,
		"recognizer_confidence", cmd.RecognizerConfidence,
	)

	if !e.confident(cmd) {
		e.lowConfidence++
		e.reject("low_confidence", "Sorry, I'm not sure what you said. Please repeat.")
		if e.lowConfidence >= unintelligibleLimit {
			e.lowConfidence = 0
			e.raiseError("repeated unintelligible commands")
		}
		_ = e.arm()
		return
	}
	e.lowConfidence = 0

	if n, ok := cmd.Number(); ok {
		id, found := e.numbers.OrderID(n)
		if !found && cmd.Action.TargetsSingleOrder() {
			e.reject("unknown_order", fmt.Sprintf("I couldn't find order %d.", n))
			_ = e.arm()
			return
		}
		cmd.OrderID = id
	}

	if cmd.Action.ChangesStatus() {
		e.confirm(cmd)
		return
	}

	e.dispatch(cmd)
	e.speak(acknowledgement(cmd), evNone)
	_ = e.arm()
}

// confident gates dispatch. Unknown actions never pass; the recognizer
// floor applies only when the recognizer reported a score.
func (e *Engine) confident(cmd domain.VoiceCommand) bool {
	if cmd.Action == domain.ActionUnknown {
		return false
	}
	if cmd.Confidence < e.cfg.ConfidenceThreshold {
		return false
	}
	floor := e.cfg.MinRecognizerConfidence
	if floor > 0 && cmd.RecognizerConfidence > 0 && cmd.RecognizerConfidence < floor {
		return false
	}
	return true
}

func (e *Engine) confirm(cmd domain.VoiceCommand) {
	e.halt()
	e.pending = &PendingConfirmation{
		Command:  cmd,
		IssuedAt: time.Now(),
		Timeout:  e.cfg.ConfirmationTimeout(),
	}
	e.transition(domain.StateConfirming)
	e.status("Waiting for confirmation")
	e.armTimer(e.cfg.PromptTimeout(), evConfirmTimeout)
	e.speak(confirmationPrompt(cmd), evPromptSpoken)
}

// onPromptSpoken opens a fresh recognizer session for the yes/no reply. The
// confirmation window starts here, not when the prompt was queued.
func (e *Engine) onPromptSpoken() {
	if e.State() != domain.StateConfirming || e.listenRun != nil {
		return
	}
	e.armTimer(e.cfg.ConfirmationTimeout(), evConfirmTimeout)
	e.startListener()
}

func (e *Engine) resolveConfirmation(reply string) {
	p := e.pending
	e.pending = nil
	if p == nil {
		_ = e.arm()
		return
	}

	if isAffirmative(reply) {
		e.sessionLog.Info("command confirmed", "reply", reply, "waited", time.Since(p.IssuedAt))
		e.dispatch(p.Command)
		e.speak(completion(p.Command), evNone)
	} else {
		e.sessionLog.Info("command declined", "reply", reply)
		e.observer.CommandRejected("declined")
		e.speak("Cancelled.", evNone)
	}
	_ = e.arm()
}

func (e *Engine) onConfirmTimeout() {
	if e.State() != domain.StateConfirming {
		return
	}
	e.halt()
	e.pending = nil
	e.sessionLog.Info("confirmation timed out", "timeout", e.cfg.ConfirmationTimeout())
	e.observer.CommandRejected("confirmation_timeout")
	e.speak("Cancelled.", evNone)
	_ = e.arm()
}

func (e *Engine) dispatch(cmd domain.VoiceCommand) {
	e.sessionLog.Info("dispatching command",
		"action", cmd.Action,
		"order_id", cmd.OrderID,
		"status", cmd.Status,
		"confidence", cmd.Confidence,
	)
	e.observer.CommandDispatched(cmd)

	e.mu.RLock()
	handlers := e.commandHandlers
	e.mu.RUnlock()
	for _, h := range handlers {
		h(cmd)
	}
}

func (e *Engine) reject(reason, reply string) {
	e.sessionLog.Info("command rejected", "reason", reason)
	e.observer.CommandRejected(reason)
	e.speak(reply, evNone)
}
