package simmer

import (
	"context"
	"errors"
	"sync"
)

// ErrRunnerStopped is returned for sessions started after Stop.
var ErrRunnerStopped = errors.New("session runner is stopped")

// AsyncSession is a handle to a session running in the background.
type AsyncSession struct {
	cancel context.CancelFunc
	done   chan struct{}

	sess *Session
	err  error
}

// Abort cancels the session. In-flight steps are terminated and the session
// ends ABORTED, resumable later.
func (a *AsyncSession) Abort() {
	a.cancel()
}

// Done is closed when the session reaches a terminal status.
func (a *AsyncSession) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the session finishes or ctx expires.
func (a *AsyncSession) Wait(ctx context.Context) (*Session, error) {
	select {
	case <-a.done:
		return a.sess, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionRunner starts engine sessions in the background and tracks them so
// they can be aborted individually or drained together.
type SessionRunner struct {
	eng Engine

	mu      sync.Mutex
	wg      sync.WaitGroup
	active  map[*AsyncSession]struct{}
	stopped bool
}

// NewSessionRunner creates a runner over the given engine.
func NewSessionRunner(eng Engine) *SessionRunner {
	return &SessionRunner{
		eng:    eng,
		active: make(map[*AsyncSession]struct{}),
	}
}

// Start runs a new session of the named recipe in the background.
func (r *SessionRunner) Start(ctx context.Context, recipeName string, initial map[string]any) *AsyncSession {
	return r.launch(ctx, func(ctx context.Context) (*Session, error) {
		return r.eng.Run(ctx, recipeName, initial)
	})
}

// Resume re-enters a resumable session in the background.
func (r *SessionRunner) Resume(ctx context.Context, sessionID string) *AsyncSession {
	return r.launch(ctx, func(ctx context.Context) (*Session, error) {
		return r.eng.Resume(ctx, sessionID)
	})
}

func (r *SessionRunner) launch(ctx context.Context, run func(context.Context) (*Session, error)) *AsyncSession {
	ctx, cancel := context.WithCancel(ctx)
	a := &AsyncSession{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		a.err = ErrRunnerStopped
		close(a.done)
		return a
	}
	r.active[a] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()

		a.sess, a.err = run(ctx)

		r.mu.Lock()
		delete(r.active, a)
		r.mu.Unlock()
		close(a.done)
	}()
	return a
}

// Stop aborts every active session and waits for them to settle. The runner
// accepts no new sessions afterwards.
func (r *SessionRunner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for a := range r.active {
		a.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
