// Package control provides the operator kill switches. Gaming can be
// stopped as a whole or per game; every change is audited and, when a
// state store is configured, survives restarts.
package control

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/audit"
	"github.com/alexbotov/sweepsrgs/internal/domain"
)

// State is the persisted switch state
type State struct {
	GamingEnabled  bool
	DisabledAt     *time.Time
	DisabledBy     string
	DisabledReason string
	DisabledGames  []string
}

// StateStore persists switch changes
type StateStore interface {
	SaveGaming(ctx context.Context, enabled bool, reason, by string, at time.Time) error
	SaveGame(ctx context.Context, gameID string, disabled bool, reason, by string, at time.Time) error
	Load(ctx context.Context) (*State, error)
}

// Service provides gaming system control functionality
type Service struct {
	store StateStore
	audit *audit.Service

	mu              sync.RWMutex
	gamingEnabled   bool
	disabledGames   map[string]bool
	disabledAt      *time.Time
	disabledBy      string
	disabledReason  string
	lastStateChange time.Time
}

// New creates a control service. store may be nil for in-memory switches.
func New(store StateStore, auditSvc *audit.Service) *Service {
	return &Service{
		store:           store,
		audit:           auditSvc,
		gamingEnabled:   true,
		disabledGames:   make(map[string]bool),
		lastStateChange: time.Now().UTC(),
	}
}

// DisableAllGaming stops all play until re-enabled
func (s *Service) DisableAllGaming(ctx context.Context, reason, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.store != nil {
		if err := s.store.SaveGaming(ctx, false, reason, authorizedBy, now); err != nil {
			return fmt.Errorf("failed to persist gaming state: %w", err)
		}
	}
	s.gamingEnabled = false
	s.disabledAt = &now
	s.disabledBy = authorizedBy
	s.disabledReason = reason
	s.lastStateChange = now

	s.audit.Log(ctx, audit.EventGamingDisabled, domain.SeverityCritical,
		fmt.Sprintf("All gaming disabled: %s", reason),
		map[string]any{"authorized_by": authorizedBy, "reason": reason},
		audit.WithComponent("control"))
	return nil
}

// EnableAllGaming resumes play
func (s *Service) EnableAllGaming(ctx context.Context, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.store != nil {
		if err := s.store.SaveGaming(ctx, true, "", authorizedBy, now); err != nil {
			return fmt.Errorf("failed to persist gaming state: %w", err)
		}
	}
	s.gamingEnabled = true
	s.disabledAt = nil
	s.disabledBy = ""
	s.disabledReason = ""
	s.lastStateChange = now

	s.audit.Log(ctx, audit.EventGamingEnabled, domain.SeverityInfo, "All gaming enabled",
		map[string]any{"authorized_by": authorizedBy},
		audit.WithComponent("control"))
	return nil
}

// DisableGame disables a specific game
func (s *Service) DisableGame(ctx context.Context, gameID, reason, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.store != nil {
		if err := s.store.SaveGame(ctx, gameID, true, reason, authorizedBy, now); err != nil {
			return fmt.Errorf("failed to persist game state: %w", err)
		}
	}
	s.disabledGames[gameID] = true
	s.lastStateChange = now

	s.audit.Log(ctx, audit.EventGameDisabled, domain.SeverityWarning,
		fmt.Sprintf("Game disabled: %s - %s", gameID, reason),
		map[string]any{"game_id": gameID, "reason": reason, "authorized_by": authorizedBy},
		audit.WithComponent("control"))
	return nil
}

// EnableGame enables a specific game
func (s *Service) EnableGame(ctx context.Context, gameID, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if s.store != nil {
		if err := s.store.SaveGame(ctx, gameID, false, "", authorizedBy, now); err != nil {
			return fmt.Errorf("failed to persist game state: %w", err)
		}
	}
	delete(s.disabledGames, gameID)
	s.lastStateChange = now

	s.audit.Log(ctx, audit.EventGameEnabled, domain.SeverityInfo,
		fmt.Sprintf("Game enabled: %s", gameID),
		map[string]any{"game_id": gameID, "authorized_by": authorizedBy},
		audit.WithComponent("control"))
	return nil
}

// IsGamingEnabled checks if gaming is currently enabled
func (s *Service) IsGamingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gamingEnabled
}

// IsGameEnabled checks if a specific game is enabled
func (s *Service) IsGameEnabled(gameID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabledGames[gameID]
}

// GetSystemStatus returns current gaming system status
func (s *Service) GetSystemStatus() *domain.GamingSystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]string, 0, len(s.disabledGames))
	for id := range s.disabledGames {
		games = append(games, id)
	}
	sort.Strings(games)

	return &domain.GamingSystemStatus{
		GamingEnabled:   s.gamingEnabled,
		DisabledAt:      s.disabledAt,
		DisabledBy:      s.disabledBy,
		DisabledReason:  s.disabledReason,
		DisabledGames:   games,
		LastStateChange: s.lastStateChange,
	}
}

// CheckAccess verifies that gameID may be played right now
func (s *Service) CheckAccess(gameID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.gamingEnabled {
		return fmt.Errorf("%w: all gaming is currently disabled", domain.ErrGameDisabled)
	}
	if s.disabledGames[gameID] {
		return fmt.Errorf("%w: %s", domain.ErrGameDisabled, gameID)
	}
	return nil
}

// LoadState restores persisted switches on startup
func (s *Service) LoadState(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	st, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gamingEnabled = st.GamingEnabled
	s.disabledAt = st.DisabledAt
	s.disabledBy = st.DisabledBy
	s.disabledReason = st.DisabledReason
	s.disabledGames = make(map[string]bool, len(st.DisabledGames))
	for _, id := range st.DisabledGames {
		s.disabledGames[id] = true
	}
	if !st.GamingEnabled {
		log.WithField("reason", st.DisabledReason).Warn("Gaming is disabled by persisted state")
	}
	return nil
}
