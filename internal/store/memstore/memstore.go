// Package memstore is an in-process UserStateStore/RewardEventLog/
// ReferralGraphStore/CardStore implementation, used for tests and for
// running the engine without a database. It implements per-user
// serialization as a short-lived mutex keyed by user ID, the option
// spec.md §5 explicitly allows as an alternative to optimistic
// concurrency. Update still increments the user's version field, so
// versions match what the Postgres store reports; it never conflicts.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

type userRecord struct {
	mu   sync.Mutex
	user models.User
}

// Store is the in-memory adapter for all four store interfaces.
type Store struct {
	mu    sync.RWMutex
	users map[models.UserId]*userRecord

	sessionsMu sync.Mutex
	sessions   map[models.UserId]models.MiningSession // active only

	accrualMu sync.Mutex
	accrued   map[string]int64 // "userID|YYYY-MM-DD" -> micro-units

	outcomesMu sync.Mutex
	outcomes   map[string]models.RewardOutcome // "userID|clientEventID"

	logMu sync.Mutex
	seq   map[models.UserId]uint64
	log   map[models.UserId][]models.EventLogRecord

	edgesMu    sync.Mutex
	referrerOf map[models.UserId]models.UserId
	children   map[models.UserId][]models.ReferralEdge

	snapshotsMu sync.Mutex
	snapshots   map[models.UserId]models.ReferralNetworkSnapshot

	cardsMu     sync.Mutex
	cards       map[models.UserId]map[string]models.NFTCardEffect // instanceID -> effect
	cooldowns   map[string]time.Time                              // "userID|cardKind"
	ownedCards  map[string]map[string]bool                        // userID -> cardID -> owned
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		users:      make(map[models.UserId]*userRecord),
		sessions:   make(map[models.UserId]models.MiningSession),
		accrued:    make(map[string]int64),
		outcomes:   make(map[string]models.RewardOutcome),
		seq:        make(map[models.UserId]uint64),
		log:        make(map[models.UserId][]models.EventLogRecord),
		referrerOf: make(map[models.UserId]models.UserId),
		children:   make(map[models.UserId][]models.ReferralEdge),
		snapshots:  make(map[models.UserId]models.ReferralNetworkSnapshot),
		cards:      make(map[models.UserId]map[string]models.NFTCardEffect),
		cooldowns:  make(map[string]time.Time),
		ownedCards: make(map[string]map[string]bool),
	}
}

// GrantCard marks a card as owned by a user, a test/seeding helper since
// card ownership originates outside the engine (NFT custody is out of
// scope per spec.md §1).
func (s *Store) GrantCard(userID models.UserId, cardID string) {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	m, ok := s.ownedCards[string(userID)]
	if !ok {
		m = make(map[string]bool)
		s.ownedCards[string(userID)] = m
	}
	m[cardID] = true
}

func (s *Store) record(id models.UserId, now time.Time) *userRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[id]
	if !ok {
		r = &userRecord{user: models.User{
			ID:                 id,
			CreatedAt:          now,
			RPTier:             models.TierExplorer,
			XPLevel:            1,
			HumanScore:         1.0,
			QualityScoreRecent: 1.0,
		}}
		s.users[id] = r
	}
	return r
}

func (s *Store) Get(ctx context.Context, id models.UserId) (models.User, error) {
	s.mu.RLock()
	r, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return models.User{}, errNotFound(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user, nil
}

func (s *Store) GetOrCreate(ctx context.Context, id models.UserId, now time.Time) (models.User, error) {
	r := s.record(id, now)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user, nil
}

func (s *Store) Update(ctx context.Context, id models.UserId, mutator store.Mutator) (models.User, error) {
	r := s.record(id, time.Now())
	r.mu.Lock()
	defer r.mu.Unlock()
	candidate := r.user
	if err := mutator(&candidate); err != nil {
		return models.User{}, err
	}
	candidate.Version = r.user.Version + 1
	r.user = candidate
	return r.user, nil
}

func (s *Store) CreditFIN(ctx context.Context, id models.UserId, amount int64, sourceTag string) (models.User, error) {
	return s.Update(ctx, id, func(u *models.User) error {
		u.Holdings += amount
		return nil
	})
}

func (s *Store) CreditXP(ctx context.Context, id models.UserId, amount uint64) (models.User, error) {
	return s.Update(ctx, id, func(u *models.User) error {
		u.XPTotal += amount
		return nil
	})
}

func (s *Store) CreditRP(ctx context.Context, id models.UserId, delta int64) (models.User, error) {
	return s.Update(ctx, id, func(u *models.User) error {
		if delta < 0 && uint64(-delta) > u.RPTotal {
			u.RPTotal = 0
			return nil
		}
		u.RPTotal = uint64(int64(u.RPTotal) + delta)
		return nil
	})
}

func (s *Store) TodayAccrued(ctx context.Context, id models.UserId, today string) (int64, error) {
	s.accrualMu.Lock()
	defer s.accrualMu.Unlock()
	return s.accrued[accrualKey(id, today)], nil
}

func (s *Store) RecordAccrued(ctx context.Context, id models.UserId, today string, amount int64) error {
	s.accrualMu.Lock()
	defer s.accrualMu.Unlock()
	s.accrued[accrualKey(id, today)] += amount
	return nil
}

func (s *Store) GetActiveSession(ctx context.Context, id models.UserId) (*models.MiningSession, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != models.SessionActive {
		return nil, nil
	}
	cp := sess
	return &cp, nil
}

// GetSession returns the user's most recent session record regardless of
// status, so a closed session's cooldown_until remains readable.
func (s *Store) GetSession(ctx context.Context, id models.UserId) (*models.MiningSession, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := sess
	return &cp, nil
}

func (s *Store) PutSession(ctx context.Context, sess models.MiningSession) error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sess.UserID] = sess
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, userID models.UserId, sessionID string, mutator store.SessionMutator) (models.MiningSession, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok || sess.SessionID != sessionID {
		return models.MiningSession{}, errSessionNotFound(userID)
	}
	if err := mutator(&sess); err != nil {
		return models.MiningSession{}, err
	}
	s.sessions[userID] = sess
	return sess, nil
}

func (s *Store) GetCachedOutcome(ctx context.Context, userID models.UserId, clientEventID string) (*models.RewardOutcome, bool, error) {
	s.outcomesMu.Lock()
	defer s.outcomesMu.Unlock()
	o, ok := s.outcomes[outcomeKey(userID, clientEventID)]
	if !ok {
		return nil, false, nil
	}
	cp := o
	return &cp, true, nil
}

func (s *Store) PutCachedOutcome(ctx context.Context, userID models.UserId, clientEventID string, outcome models.RewardOutcome) error {
	s.outcomesMu.Lock()
	defer s.outcomesMu.Unlock()
	s.outcomes[outcomeKey(userID, clientEventID)] = outcome
	return nil
}

func (s *Store) Append(ctx context.Context, userID models.UserId, rec models.EventLogRecord) (uint64, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.seq[userID]++
	rec.Seq = s.seq[userID]
	s.log[userID] = append(s.log[userID], rec)
	return rec.Seq, nil
}

func (s *Store) NextSeq(ctx context.Context, userID models.UserId) (uint64, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return s.seq[userID] + 1, nil
}

// Records returns the full append-only log for a user (test helper).
func (s *Store) Records(userID models.UserId) []models.EventLogRecord {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]models.EventLogRecord, len(s.log[userID]))
	copy(out, s.log[userID])
	return out
}

func accrualKey(id models.UserId, day string) string { return string(id) + "|" + day }
func outcomeKey(id models.UserId, clientEventID string) string { return string(id) + "|" + clientEventID }

// TotalUsers implements phase.NetworkSizeSource.
func (s *Store) TotalUsers(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.users)), nil
}

// ListActiveSessions implements mining.ActiveSessionLister.
func (s *Store) ListActiveSessions(ctx context.Context) ([]models.MiningSession, error) {
	return s.sessionsByStatus(models.SessionActive), nil
}

// ListSuspendedSessions implements mining.ActiveSessionLister.
func (s *Store) ListSuspendedSessions(ctx context.Context) ([]models.MiningSession, error) {
	return s.sessionsByStatus(models.SessionSuspended), nil
}

func (s *Store) sessionsByStatus(status models.SessionStatus) []models.MiningSession {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	out := make([]models.MiningSession, 0)
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	return out
}
