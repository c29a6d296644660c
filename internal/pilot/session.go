// internal/pilot/session.go
package pilot

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/dom"
)

// Session is the unit of state behind a dispatcher: one browser, at most one
// live page, and the selector map of the most recent snapshot. A session
// starts with no page; every command except open_url requires one.
type Session struct {
	id     string
	logger *zap.Logger

	mu        sync.Mutex
	driver    schemas.BrowserDriver
	page      schemas.PageDriver
	selectors dom.SelectorMap
}

// NewSession wraps a browser driver. No page is opened yet.
func NewSession(driver schemas.BrowserDriver, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		driver: driver,
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// Page returns the live page, or nil before the first open_url.
func (s *Session) Page() schemas.PageDriver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// OpenPage replaces the live page wholesale: the previous page (if any) is
// closed, its selector map discarded, and a fresh page installed. The page
// handle is never navigated in place across open_url calls.
func (s *Session) OpenPage(ctx context.Context) (schemas.PageDriver, error) {
	s.mu.Lock()
	old := s.page
	s.page = nil
	s.selectors = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			s.logger.Warn("Error closing previous page.", zap.Error(err))
		}
	}

	page, err := s.driver.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser page: %w", err)
	}

	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
	s.logger.Info("Opened browser page.")
	return page, nil
}

// ReplaceSelectors installs a fresh snapshot's selector map, discarding the
// previous one. Indices never survive a snapshot boundary.
func (s *Session) ReplaceSelectors(m dom.SelectorMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectors = m
}

// Locator resolves a highlight index against the current selector map.
func (s *Session) Locator(index int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectors == nil {
		return "", false
	}
	return s.selectors.Locator(index)
}

// Teardown closes the page and releases the browser. Safe to call when no
// page was ever opened.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.selectors = nil
	s.mu.Unlock()

	if page != nil {
		if err := page.Close(ctx); err != nil {
			s.logger.Warn("Error closing page during teardown.", zap.Error(err))
		}
	}
	if err := s.driver.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down browser: %w", err)
	}
	s.logger.Info("Session torn down.")
	return nil
}
