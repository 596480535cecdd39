package memory

import (
	"context"
	"sort"
	"sync"

	"cardledger/internal/core"

	"github.com/google/uuid"
)

// Store keeps the ledger in process memory. It is safe for concurrent use
// and hands out copies, so callers never share rows with the store.
type Store struct {
	mu         sync.Mutex
	cards      map[string]core.Card
	statements map[string]core.Statement
	payments   map[string]core.Payment
	versions   map[string]int64
}

func New() *Store {
	return &Store{
		cards:      make(map[string]core.Card),
		statements: make(map[string]core.Statement),
		payments:   make(map[string]core.Payment),
		versions:   make(map[string]int64),
	}
}

func (s *Store) bump(userID string) {
	s.versions[userID]++
}

func (s *Store) ListCards(_ context.Context, userID string) ([]core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Card, 0, len(s.cards))
	for _, c := range s.cards {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListStatements(_ context.Context, userID string) ([]core.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Statement, 0, len(s.statements))
	for _, st := range s.statements {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Month.Equal(out[j].Month) {
			return out[i].Month.After(out[j].Month)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListPayments(_ context.Context, userID string) ([]core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidOn.Equal(out[j].PaidOn) {
			return out[i].PaidOn.After(out[j].PaidOn)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Version(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[userID], nil
}

func (s *Store) GetCard(_ context.Context, userID, id string) (core.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok || c.UserID != userID {
		return core.Card{}, core.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetStatement(_ context.Context, userID, id string) (core.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statements[id]
	if !ok || st.UserID != userID {
		return core.Statement{}, core.ErrNotFound
	}
	return st, nil
}

func (s *Store) GetPayment(_ context.Context, userID, id string) (core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.UserID != userID {
		return core.Payment{}, core.ErrNotFound
	}
	return p, nil
}

// SaveCard validates and stores c. An empty ID gets a fresh UUID.
func (s *Store) SaveCard(_ context.Context, c core.Card) (core.Card, error) {
	if err := c.Validate(); err != nil {
		return core.Card{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if old, ok := s.cards[c.ID]; ok && old.UserID != c.UserID {
		return core.Card{}, core.ErrNotFound
	}
	s.cards[c.ID] = c
	s.bump(c.UserID)
	return c, nil
}

func (s *Store) DeleteCard(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok || c.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.cards, id)
	for sid, st := range s.statements {
		if st.CardID == id && st.UserID == userID {
			s.deleteStatementLocked(sid)
		}
	}
	s.bump(userID)
	return nil
}

// UpsertStatement keys on (user, card, month) so a second statement for the
// same billing period replaces the first.
func (s *Store) UpsertStatement(_ context.Context, st core.Statement) (core.Statement, error) {
	st.Month = st.Month.MonthStart()
	if err := st.Validate(); err != nil {
		return core.Statement{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.statements {
		if existing.UserID == st.UserID && existing.CardID == st.CardID && existing.Month.Equal(st.Month) {
			st.ID = existing.ID
			break
		}
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	s.statements[st.ID] = st
	s.bump(st.UserID)
	return st, nil
}

func (s *Store) DeleteStatement(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statements[id]
	if !ok || st.UserID != userID {
		return core.ErrNotFound
	}
	s.deleteStatementLocked(id)
	s.bump(userID)
	return nil
}

func (s *Store) deleteStatementLocked(id string) {
	delete(s.statements, id)
	for pid, p := range s.payments {
		if p.StatementID == id {
			p.StatementID = ""
			s.payments[pid] = p
		}
	}
}

func (s *Store) SavePayment(_ context.Context, p core.Payment) (core.Payment, error) {
	if err := p.Validate(); err != nil {
		return core.Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if old, ok := s.payments[p.ID]; ok && old.UserID != p.UserID {
		return core.Payment{}, core.ErrNotFound
	}
	s.payments[p.ID] = p
	s.bump(p.UserID)
	return p, nil
}

func (s *Store) RelinkPayment(_ context.Context, userID, paymentID, statementID string) (core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.UserID != userID {
		return core.Payment{}, core.ErrNotFound
	}
	if statementID != "" {
		st, ok := s.statements[statementID]
		if !ok || st.UserID != userID {
			return core.Payment{}, core.ErrNotFound
		}
	}
	p.StatementID = statementID
	s.payments[paymentID] = p
	s.bump(userID)
	return p, nil
}

func (s *Store) DeletePayment(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.payments, id)
	s.bump(userID)
	return nil
}
