package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/partyroom/internal/models"
	"github.com/rs/zerolog/log"
)

// Authority defines what the app layer needs from the auth authority.
type Authority interface {
	EnsureIdentity(ctx context.Context) (uuid.UUID, error)
}

const defaultBootstrapTimeout = 10 * time.Second

// flight is one in-progress bootstrap shared by every concurrent caller.
type flight struct {
	done    chan struct{}
	session *models.Session
	err     error
}

// App handles identity bootstrap. Concurrent EnsureSession callers collapse
// into a single in-flight bootstrap and all observe the same outcome.
type App struct {
	authority Authority
	timeout   time.Duration

	mu      sync.Mutex
	session *models.Session
	current *flight
}

// NewApp creates a new identity App.
func NewApp(authority Authority) *App {
	return &App{
		authority: authority,
		timeout:   defaultBootstrapTimeout,
	}
}

// EnsureSession returns the Ready session for this process, bootstrapping an
// anonymous identity on first use. Failure is surfaced, never retried here.
func (a *App) EnsureSession(ctx context.Context) (*models.Session, error) {
	a.mu.Lock()
	if a.session.Ready() {
		s := *a.session
		a.mu.Unlock()
		return &s, nil
	}
	f := a.current
	if f == nil {
		f = &flight{done: make(chan struct{})}
		a.current = f
		go a.bootstrap(f)
	}
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
	}
	if f.err != nil {
		return nil, f.err
	}
	s := *f.session
	return &s, nil
}

// Session returns the current session without triggering a bootstrap.
func (a *App) Session() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return &models.Session{Status: models.SessionStatusAbsent}
	}
	s := *a.session
	return &s
}

// bootstrap runs detached from any single caller's context so that one
// caller cancelling does not fail the bootstrap for everyone else.
func (a *App) bootstrap(f *flight) {
	defer close(f.done)

	a.setStatus(models.SessionStatusBootstrapping)

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	id, err := a.authority.EnsureIdentity(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
	if err != nil {
		a.session = &models.Session{Status: models.SessionStatusAbsent}
		f.err = fmt.Errorf("identity bootstrap: %w", err)
		log.Error().Err(err).Msg("identity bootstrap failed")
		return
	}

	a.session = &models.Session{
		IdentityID: id,
		Status:     models.SessionStatusReady,
	}
	f.session = a.session

	log.Info().Str("identity_id", id.String()).Msg("identity session ready")
}

func (a *App) setStatus(status models.SessionStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		a.session = &models.Session{}
	}
	a.session.Status = status
}
