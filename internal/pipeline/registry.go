package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vertextoedge/sharesplit/internal/domain"
	"github.com/vertextoedge/sharesplit/internal/domain/event"
	"github.com/vertextoedge/sharesplit/internal/port"
)

// Registry owns the live controllers, one per session. A source URL has
// at most one active session at a time; submitting it again while that
// session is still going hands back the existing one.
type Registry struct {
	extractor  port.Extractor
	downloads  port.DownloadCoordinator
	splitter   port.Splitter
	sessions   port.SessionRepository
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu   sync.Mutex
	byID map[string]*Controller
}

// NewRegistry creates a new Registry
func NewRegistry(
	extractor port.Extractor,
	downloads port.DownloadCoordinator,
	splitter port.Splitter,
	sessions port.SessionRepository,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		extractor:  extractor,
		downloads:  downloads,
		splitter:   splitter,
		sessions:   sessions,
		dispatcher: dispatcher,
		logger:     logger,
		byID:       make(map[string]*Controller),
	}
}

// StartSession creates and starts a session for sourceURL. When an
// active session for the same URL already exists it is returned
// unchanged and created is false.
func (r *Registry) StartSession(ctx context.Context, sourceURL string) (ctrl *Controller, created bool, err error) {
	session := domain.NewProcessingSession(sourceURL)

	r.mu.Lock()
	if existing := r.findActiveLocked(session.SourceURL); existing != nil {
		r.mu.Unlock()
		return existing, false, nil
	}

	ctrl = r.newController(session)
	r.byID[session.ID] = ctrl
	r.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		return nil, false, err
	}
	return ctrl, true, nil
}

// Get returns the controller for a session ID, or
// domain.ErrSessionNotFound.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return ctrl, nil
}

// List returns all known controllers.
func (r *Registry) List() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.byID))
	for _, ctrl := range r.byID {
		out = append(out, ctrl)
	}
	return out
}

// Retry starts the next attempt for a failed session.
func (r *Registry) Retry(ctx context.Context, id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	return ctrl.Retry(ctx)
}

// Cancel aborts a session's in-flight run.
func (r *Registry) Cancel(id string) error {
	ctrl, err := r.Get(id)
	if err != nil {
		return err
	}
	ctrl.Cancel()
	return nil
}

// ResumeAll rebuilds controllers for sessions that were in flight when
// the process died and re-attaches them to their download jobs.
func (r *Registry) ResumeAll(ctx context.Context) error {
	persisted, err := r.sessions.ListSessions()
	if err != nil {
		return err
	}

	for _, session := range persisted {
		r.mu.Lock()
		if _, ok := r.byID[session.ID]; ok {
			r.mu.Unlock()
			continue
		}
		ctrl := r.newController(session)
		r.byID[session.ID] = ctrl
		r.mu.Unlock()

		r.logger.Info("resuming session",
			zap.String("session_id", session.ID),
			zap.Int("attempt", session.Attempt))
		if err := ctrl.Resume(ctx); err != nil {
			r.logger.Warn("failed to resume session",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	return nil
}

// findActiveLocked returns a controller that is still working the same
// source URL, if any. Caller holds r.mu.
func (r *Registry) findActiveLocked(sourceURL string) *Controller {
	key := domain.JobKey(sourceURL)
	for _, ctrl := range r.byID {
		if domain.JobKey(ctrl.session.SourceURL) != key {
			continue
		}
		state := func() domain.PipelineState {
			ctrl.mu.Lock()
			defer ctrl.mu.Unlock()
			return ctrl.state
		}()
		if !state.Terminal() && state.Kind != domain.StateIdle {
			return ctrl
		}
		ctrl.mu.Lock()
		running := ctrl.running
		ctrl.mu.Unlock()
		if running {
			return ctrl
		}
	}
	return nil
}

func (r *Registry) newController(session *domain.ProcessingSession) *Controller {
	return NewController(session, r.extractor, r.downloads, r.splitter, r.sessions, r.dispatcher, r.logger)
}
