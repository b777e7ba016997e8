// Package storetest provides an in-memory Store used by coordinator and
// handler tests. It mirrors the conditional-update semantics of the
// Postgres store, including the sentinel errors each method returns.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/storage"
	"github.com/loseyco/revshareracing-sub002/pkg/crypto"
)

// MemStore is an in-memory storage.Store. Error fields inject failures
// into specific methods to exercise compensation paths.
type MemStore struct {
	mu sync.Mutex

	users     map[uuid.UUID]*models.User
	rigs      map[uuid.UUID]*models.Rig
	entries   map[uuid.UUID]*models.QueueEntry
	commands  map[uuid.UUID]*models.RigCommand
	balances  map[uuid.UUID]int64
	telemetry []*models.TelemetrySample
	events    []*models.EventLog

	// Failure injection
	CreateCommandErr   error
	SetSessionStateErr error
	DebitErr           error
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[uuid.UUID]*models.User),
		rigs:     make(map[uuid.UUID]*models.Rig),
		entries:  make(map[uuid.UUID]*models.QueueEntry),
		commands: make(map[uuid.UUID]*models.RigCommand),
		balances: make(map[uuid.UUID]int64),
	}
}

// ========== Transaction Methods ==========

// BeginTx returns the store itself; the fake serializes everything on a
// single mutex instead of real transactions.
func (s *MemStore) BeginTx(ctx context.Context) (storage.Store, error) { return s, nil }

// Commit is a no-op
func (s *MemStore) Commit() error { return nil }

// Rollback is a no-op
func (s *MemStore) Rollback() error { return nil }

// Close is a no-op
func (s *MemStore) Close() error { return nil }

// ========== User Methods ==========

func (s *MemStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return storage.ErrDuplicateKey
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if pwd, ok := user.Settings["password"].(string); ok && pwd != "" {
		hash, err := crypto.HashPassword(pwd)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
		delete(user.Settings, "password")
	}

	s.users[user.ID] = user
	return nil
}

func (s *MemStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

func (s *MemStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *MemStore) UpdateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return storage.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	s.users[user.ID] = user
	return nil
}

func (s *MemStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *MemStore) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]*models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })

	return page(users, limit, offset), int64(len(s.users)), nil
}

// ========== Rig Methods ==========

func (s *MemStore) CreateRig(ctx context.Context, rig *models.Rig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rigs {
		if existing.Name == rig.Name {
			return storage.ErrDuplicateKey
		}
	}

	if rig.ID == uuid.Nil {
		rig.ID = uuid.New()
	}
	now := time.Now()
	rig.CreatedAt = now
	rig.UpdatedAt = now

	s.rigs[rig.ID] = rig
	return nil
}

func (s *MemStore) GetRig(ctx context.Context, id uuid.UUID) (*models.Rig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rig, ok := s.rigs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rig, nil
}

func (s *MemStore) UpdateRig(ctx context.Context, rig *models.Rig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rigs[rig.ID]; !ok {
		return storage.ErrNotFound
	}
	rig.UpdatedAt = time.Now()
	s.rigs[rig.ID] = rig
	return nil
}

func (s *MemStore) DeleteRig(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rig, ok := s.rigs[id]
	if !ok {
		return storage.ErrNotFound
	}
	if rig.Claimed {
		return storage.ErrConflict
	}
	delete(s.rigs, id)
	return nil
}

func (s *MemStore) ListRigs(ctx context.Context, limit, offset int) ([]*models.Rig, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rigs := make([]*models.Rig, 0, len(s.rigs))
	for _, rig := range s.rigs {
		rigs = append(rigs, rig)
	}
	sort.Slice(rigs, func(i, j int) bool { return rigs[i].Name < rigs[j].Name })

	return page(rigs, limit, offset), int64(len(s.rigs)), nil
}

func (s *MemStore) ListRigsWithSession(ctx context.Context) ([]*models.Rig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rigs []*models.Rig
	for _, rig := range s.rigs {
		if rig.SessionState != nil {
			rigs = append(rigs, rig)
		}
	}
	sort.Slice(rigs, func(i, j int) bool { return rigs[i].Name < rigs[j].Name })
	return rigs, nil
}

func (s *MemStore) TouchRigHeartbeat(ctx context.Context, rigID uuid.UUID, ready *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rig, ok := s.rigs[rigID]
	if !ok {
		return storage.ErrNotFound
	}
	now := time.Now()
	rig.HeartbeatAt = &now
	if ready != nil {
		rig.HardwareReady = ready
	}
	return nil
}

func (s *MemStore) SetRigSessionState(ctx context.Context, rigID uuid.UUID, state *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SetSessionStateErr != nil {
		return s.SetSessionStateErr
	}

	rig, ok := s.rigs[rigID]
	if !ok {
		return storage.ErrNotFound
	}
	if rig.SessionState != nil {
		return storage.ErrConflict
	}
	rig.SessionState = state
	return nil
}

func (s *MemStore) UpdateRigSessionState(ctx context.Context, rigID uuid.UUID, state *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rig, ok := s.rigs[rigID]
	if !ok {
		return storage.ErrNotFound
	}
	current := rig.SessionState
	if current == nil || current.HolderID != state.HolderID || !current.WaitingForMovement {
		return storage.ErrConflict
	}
	rig.SessionState = state
	return nil
}

func (s *MemStore) ClearRigSessionState(ctx context.Context, rigID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rig, ok := s.rigs[rigID]
	if !ok {
		return storage.ErrNotFound
	}
	rig.SessionState = nil
	return nil
}

// ========== Queue Methods ==========

func (s *MemStore) JoinQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rig, ok := s.rigs[rigID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !rig.Claimed {
		return nil, storage.ErrRigUnclaimed
	}

	occupied := 0
	for _, entry := range s.entries {
		if entry.RigID != rigID || entry.Status.Terminal() {
			continue
		}
		if entry.AccountID == accountID {
			return nil, storage.ErrAlreadyQueued
		}
		occupied++
	}

	now := time.Now()
	entry := &models.QueueEntry{
		ID:        uuid.New(),
		RigID:     rigID,
		AccountID: accountID,
		Status:    models.QueueStatusWaiting,
		Position:  occupied + 1,
		JoinedAt:  now,
	}
	if entry.Position == 1 {
		entry.PositionOneAt = &now
	}

	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *MemStore) LeaveQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry *models.QueueEntry
	for _, e := range s.entries {
		if e.RigID == rigID && e.AccountID == accountID && e.Status == models.QueueStatusWaiting {
			entry = e
			break
		}
	}
	if entry == nil {
		return nil, storage.ErrNotFound
	}

	now := time.Now()
	entry.Status = models.QueueStatusLeft
	entry.CompletedAt = &now

	for _, e := range s.entries {
		if e.RigID == rigID && !e.Status.Terminal() && e.Position > entry.Position {
			e.Position--
		}
	}

	if entry.Position == 1 {
		for _, e := range s.entries {
			if e.RigID == rigID && e.Status == models.QueueStatusWaiting && e.Position == 1 {
				stamp := now
				e.PositionOneAt = &stamp
			}
		}
	}

	return entry, nil
}

func (s *MemStore) PromoteNextEntry(ctx context.Context, rigID uuid.UUID) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.QueueEntry
	for _, e := range s.entries {
		if e.RigID == rigID && e.Status == models.QueueStatusWaiting {
			if next == nil || e.Position < next.Position {
				next = e
			}
		}
	}
	if next == nil {
		return nil, nil
	}

	now := time.Now()
	next.PositionOneAt = &now
	return next, nil
}

func (s *MemStore) GetQueueEntry(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.RigID == rigID && e.AccountID == accountID && !e.Status.Terminal() {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *MemStore) GetActiveQueueEntry(ctx context.Context, rigID uuid.UUID) (*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.RigID == rigID && e.Status == models.QueueStatusActive {
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *MemStore) ListQueueEntries(ctx context.Context, rigID uuid.UUID) ([]*models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*models.QueueEntry
	for _, e := range s.entries {
		if e.RigID == rigID && !e.Status.Terminal() {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return entries, nil
}

func (s *MemStore) ActivateQueueEntry(ctx context.Context, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return storage.ErrNotFound
	}
	if entry.Status != models.QueueStatusWaiting || entry.Position != 1 {
		return storage.ErrConflict
	}
	for _, e := range s.entries {
		if e.RigID == entry.RigID && e.Status == models.QueueStatusActive {
			return storage.ErrConflict
		}
	}

	now := time.Now()
	entry.Status = models.QueueStatusActive
	entry.StartedAt = &now
	return nil
}

func (s *MemStore) RevertQueueEntry(ctx context.Context, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok || entry.Status != models.QueueStatusActive {
		return storage.ErrConflict
	}
	entry.Status = models.QueueStatusWaiting
	entry.StartedAt = nil
	return nil
}

func (s *MemStore) CompleteQueueEntry(ctx context.Context, entryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok || entry.Status != models.QueueStatusActive {
		return storage.ErrConflict
	}
	now := time.Now()
	entry.Status = models.QueueStatusCompleted
	entry.CompletedAt = &now
	for _, e := range s.entries {
		if e.RigID == entry.RigID && e.Status == models.QueueStatusWaiting && e.Position > entry.Position {
			e.Position--
		}
	}
	return nil
}

// ========== Command Relay Methods ==========

func (s *MemStore) CreateCommand(ctx context.Context, cmd *models.RigCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateCommandErr != nil {
		return s.CreateCommandErr
	}

	for _, existing := range s.commands {
		if existing.RigID == cmd.RigID && existing.Action == cmd.Action &&
			existing.Status == models.CommandStatusPending {
			return storage.ErrConflict
		}
	}

	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	cmd.Status = models.CommandStatusPending

	s.commands[cmd.ID] = cmd
	return nil
}

func (s *MemStore) GetCommand(ctx context.Context, id uuid.UUID) (*models.RigCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cmd, nil
}

func (s *MemStore) GetPendingCommands(ctx context.Context, rigID uuid.UUID, limit int) ([]*models.RigCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cmds []*models.RigCommand
	for _, cmd := range s.commands {
		if cmd.RigID == rigID && cmd.Status == models.CommandStatusPending {
			cmds = append(cmds, cmd)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].CreatedAt.Before(cmds[j].CreatedAt) })

	if limit > 0 && len(cmds) > limit {
		cmds = cmds[:limit]
	}
	return cmds, nil
}

func (s *MemStore) CompleteCommand(ctx context.Context, id, rigID uuid.UUID, status models.CommandStatus, result models.Variables, errMsg string) (*models.RigCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status != models.CommandStatusCompleted && status != models.CommandStatusFailed {
		return nil, storage.ErrInvalidData
	}

	cmd, ok := s.commands[id]
	if !ok || cmd.RigID != rigID {
		return nil, storage.ErrNotFound
	}
	if cmd.Status != models.CommandStatusPending {
		return nil, storage.ErrConflict
	}

	now := time.Now()
	cmd.Status = status
	cmd.Result = result
	cmd.Error = errMsg
	cmd.CompletedAt = &now
	return cmd, nil
}

// ========== Credit Ledger Methods ==========

func (s *MemStore) Debit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DebitErr != nil {
		return 0, s.DebitErr
	}
	if amount < 0 {
		return 0, storage.ErrInvalidData
	}

	balance, ok := s.balances[accountID]
	if !ok || balance < amount {
		return 0, storage.ErrInsufficientCredits
	}

	balance -= amount
	s.balances[accountID] = balance
	return balance, nil
}

func (s *MemStore) Credit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount < 0 {
		return 0, storage.ErrInvalidData
	}

	s.balances[accountID] += amount
	return s.balances[accountID], nil
}

func (s *MemStore) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balances[accountID], nil
}

// ========== Telemetry Methods ==========

func (s *MemStore) CreateTelemetrySample(ctx context.Context, sample *models.TelemetrySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.ID == uuid.Nil {
		sample.ID = uuid.New()
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}
	s.telemetry = append(s.telemetry, sample)
	return nil
}

func (s *MemStore) ListRecentTelemetry(ctx context.Context, rigID uuid.UUID, limit int) ([]*models.TelemetrySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var samples []*models.TelemetrySample
	for i := len(s.telemetry) - 1; i >= 0; i-- {
		if s.telemetry[i].RigID == rigID {
			samples = append(samples, s.telemetry[i])
			if limit > 0 && len(samples) == limit {
				break
			}
		}
	}
	return samples, nil
}

// ========== Event Log Methods ==========

func (s *MemStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *MemStore) ListEventLogs(ctx context.Context, filters storage.EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.EventLog
	for _, event := range s.events {
		if filters.RigID != nil && (event.RigID == nil || *event.RigID != *filters.RigID) {
			continue
		}
		if filters.AccountID != nil && (event.AccountID == nil || *event.AccountID != *filters.AccountID) {
			continue
		}
		if filters.Type != nil && event.Type != *filters.Type {
			continue
		}
		if filters.Level != nil && event.Level != *filters.Level {
			continue
		}
		matched = append(matched, event)
	}

	return page(matched, limit, offset), int64(len(matched)), nil
}

// Events returns all recorded events of the given type, used by assertions
func (s *MemStore) Events(eventType models.EventType) []*models.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.EventLog
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// SetBalance seeds an account balance
func (s *MemStore) SetBalance(accountID uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountID] = balance
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
