package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseyco/revshareracing-sub002/internal/config"
	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/storage"
	"github.com/loseyco/revshareracing-sub002/internal/storage/storetest"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		CostCredits:      100,
		DurationSeconds:  60,
		HeartbeatOnline:  60 * time.Second,
		MovementGrace:    30 * time.Second,
		HeartbeatGrace:   90 * time.Second,
		SweepInterval:    5 * time.Second,
		CommandPollBatch: 10,
	}
}

func newTestCoordinator() (*Coordinator, *storetest.MemStore) {
	store := storetest.NewMemStore()
	cfg := testSessionConfig()
	coordinator := NewCoordinator(store, NewPresence(cfg.HeartbeatOnline), cfg, nil)
	return coordinator, store
}

func seedRig(t *testing.T, store *storetest.MemStore, claimed bool) *models.Rig {
	t.Helper()

	now := time.Now()
	ready := true
	rig := &models.Rig{
		Name:          "rig-" + uuid.NewString()[:8],
		Claimed:       claimed,
		HeartbeatAt:   &now,
		HardwareReady: &ready,
	}
	require.NoError(t, store.CreateRig(context.Background(), rig))
	return rig
}

func seedAccount(store *storetest.MemStore, balance int64) uuid.UUID {
	accountID := uuid.New()
	store.SetBalance(accountID, balance)
	return accountID
}

func TestCoordinator_JoinQueue_AssignsPositions(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)

	first, err := coordinator.JoinQueue(ctx, rig.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)
	assert.NotNil(t, first.PositionOneAt)

	second, err := coordinator.JoinQueue(ctx, rig.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)
	assert.Nil(t, second.PositionOneAt)
}

func TestCoordinator_JoinQueue_DuplicateRejected(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := uuid.New()

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	_, err = coordinator.JoinQueue(ctx, rig.ID, accountID)
	assert.Equal(t, KindAlreadyQueued, KindOf(err))
}

func TestCoordinator_JoinQueue_UnclaimedRig(t *testing.T) {
	coordinator, store := newTestCoordinator()
	rig := seedRig(t, store, false)

	_, err := coordinator.JoinQueue(context.Background(), rig.ID, uuid.New())
	assert.Equal(t, KindDeviceNotReady, KindOf(err))
}

func TestCoordinator_LeaveQueue_CompactsPositions(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()
	for _, accountID := range []uuid.UUID{first, second, third} {
		_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
		require.NoError(t, err)
	}

	_, err := coordinator.LeaveQueue(ctx, rig.ID, second)
	require.NoError(t, err)

	entries, err := store.ListQueueEntries(ctx, rig.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].AccountID)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, third, entries[1].AccountID)
	assert.Equal(t, 2, entries[1].Position)
}

func TestCoordinator_LeaveQueue_FrontDepartureStampsSuccessor(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)

	first := uuid.New()
	second := uuid.New()
	_, err := coordinator.JoinQueue(ctx, rig.ID, first)
	require.NoError(t, err)
	entry2, err := coordinator.JoinQueue(ctx, rig.ID, second)
	require.NoError(t, err)
	require.Nil(t, entry2.PositionOneAt)

	_, err = coordinator.LeaveQueue(ctx, rig.ID, first)
	require.NoError(t, err)

	promoted, err := store.GetQueueEntry(ctx, rig.ID, second)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted.Position)
	assert.NotNil(t, promoted.PositionOneAt)
}

func TestCoordinator_LeaveQueue_NotQueued(t *testing.T) {
	coordinator, store := newTestCoordinator()
	rig := seedRig(t, store, true)

	_, err := coordinator.LeaveQueue(context.Background(), rig.ID, uuid.New())
	assert.Equal(t, KindNotInQueue, KindOf(err))
}

func TestCoordinator_Activate_Success(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	state, err := coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	assert.True(t, state.WaitingForMovement)
	assert.False(t, state.Active)
	assert.Equal(t, accountID, state.HolderID)
	assert.Equal(t, 60, state.DurationSeconds)

	balance, err := store.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)

	entry, err := store.GetActiveQueueEntry(ctx, rig.ID)
	require.NoError(t, err)
	assert.Equal(t, accountID, entry.AccountID)

	cmds, err := store.GetPendingCommands(ctx, rig.ID, 10)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CommandActionSeatDriver, cmds[0].Action)
	assert.Equal(t, accountID.String(), cmds[0].Params["holder"])
}

func TestCoordinator_Activate_NotInQueue(t *testing.T) {
	coordinator, store := newTestCoordinator()
	rig := seedRig(t, store, true)

	_, err := coordinator.Activate(context.Background(), rig.ID, uuid.New())
	assert.Equal(t, KindNotInQueue, KindOf(err))
}

func TestCoordinator_Activate_NotYourTurn(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	second := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, uuid.New())
	require.NoError(t, err)
	_, err = coordinator.JoinQueue(ctx, rig.ID, second)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rig.ID, second)
	assert.Equal(t, KindNotYourTurn, KindOf(err))
}

func TestCoordinator_Activate_InsufficientCredits(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 50)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	assert.Equal(t, KindInsufficientCredits, KindOf(err))

	// Entry is untouched and no partial debit happened
	entry, err := store.GetQueueEntry(ctx, rig.ID, accountID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusWaiting, entry.Status)

	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(50), balance)
}

func TestCoordinator_Activate_OfflineRig(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	stale := time.Now().Add(-2 * time.Minute)
	rig.HeartbeatAt = &stale

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	assert.Equal(t, KindDeviceOffline, KindOf(err))
}

func TestCoordinator_Activate_HardwareNotReady(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	rig.HardwareReady = nil
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	assert.Equal(t, KindHardwareNotReady, KindOf(err))
}

func TestCoordinator_Activate_SecondActivationRejected(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	holder := seedAccount(store, 250)
	challenger := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, holder)
	require.NoError(t, err)
	_, err = coordinator.JoinQueue(ctx, rig.ID, challenger)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rig.ID, holder)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rig.ID, challenger)
	assert.Equal(t, KindNotYourTurn, KindOf(err))

	// The challenger's balance is untouched
	balance, _ := store.GetBalance(ctx, challenger)
	assert.Equal(t, int64(250), balance)
}

func TestCoordinator_Activate_CommandEnqueueFailureRollsBack(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	store.CreateCommandErr = errors.New("mailbox unavailable")

	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	assert.Equal(t, KindCommandEnqueueFailed, KindOf(err))

	// Everything rolled back: debit refunded, entry waiting, no session state
	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(250), balance)

	entry, err := store.GetQueueEntry(ctx, rig.ID, accountID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusWaiting, entry.Status)

	got, err := store.GetRig(ctx, rig.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SessionState)
}

func TestCoordinator_Activate_SessionStateConflictRollsBack(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	store.SetSessionStateErr = storage.ErrConflict

	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	assert.Equal(t, KindSessionInProgress, KindOf(err))

	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(250), balance)

	entry, err := store.GetQueueEntry(ctx, rig.ID, accountID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusWaiting, entry.Status)
}

func TestCoordinator_HandleTelemetry_StartsCountdown(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	sample := &models.TelemetrySample{RigID: rig.ID, SpeedKPH: 42, Moving: true}
	require.NoError(t, coordinator.HandleTelemetry(ctx, rig.ID, sample))

	got, err := store.GetRig(ctx, rig.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SessionState)
	assert.True(t, got.SessionState.Active)
	assert.False(t, got.SessionState.WaitingForMovement)
	require.NotNil(t, got.SessionState.StartTime)

	// A second movement sample does not restart the countdown
	started := *got.SessionState.StartTime
	require.NoError(t, coordinator.HandleTelemetry(ctx, rig.ID, sample))
	got, _ = store.GetRig(ctx, rig.ID)
	assert.Equal(t, started, *got.SessionState.StartTime)
}

func TestCoordinator_HandleTelemetry_IgnoresStationary(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	sample := &models.TelemetrySample{RigID: rig.ID, Moving: false}
	require.NoError(t, coordinator.HandleTelemetry(ctx, rig.ID, sample))

	got, _ := store.GetRig(ctx, rig.ID)
	assert.True(t, got.SessionState.WaitingForMovement)
	assert.Nil(t, got.SessionState.StartTime)
}

func TestCoordinator_Complete_Idempotent(t *testing.T) {
	coordinator, store := newTestCoordinator()
	rig := seedRig(t, store, true)

	completed, err := coordinator.Complete(context.Background(), rig.ID, "manual", false)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestCoordinator_Complete_PromotesNext(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	holder := seedAccount(store, 250)
	next := uuid.New()

	_, err := coordinator.JoinQueue(ctx, rig.ID, holder)
	require.NoError(t, err)
	_, err = coordinator.JoinQueue(ctx, rig.ID, next)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, holder)
	require.NoError(t, err)

	completed, err := coordinator.Complete(ctx, rig.ID, "ended by holder", true)
	require.NoError(t, err)
	assert.True(t, completed)

	// Session released
	got, _ := store.GetRig(ctx, rig.ID)
	assert.Nil(t, got.SessionState)
	_, err = store.GetActiveQueueEntry(ctx, rig.ID)
	assert.Equal(t, storage.ErrNotFound, err)

	// Next in line reaches the front with a fresh timestamp
	entry, err := store.GetQueueEntry(ctx, rig.ID, next)
	require.NoError(t, err)
	assert.NotNil(t, entry.PositionOneAt)

	// The agent is told to stop the rig
	cmds, _ := store.GetPendingCommands(ctx, rig.ID, 10)
	var actions []models.CommandAction
	for _, cmd := range cmds {
		actions = append(actions, cmd.Action)
	}
	assert.Contains(t, actions, models.CommandActionEndSession)

	// Natural completion does not refund
	balance, _ := store.GetBalance(ctx, holder)
	assert.Equal(t, int64(150), balance)
}

func TestCoordinator_HandleCommandResult_SeatFailureRefunds(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	cmds, _ := store.GetPendingCommands(ctx, rig.ID, 10)
	require.Len(t, cmds, 1)

	cmd, err := store.CompleteCommand(ctx, cmds[0].ID, rig.ID, models.CommandStatusFailed, nil, "actuator jam")
	require.NoError(t, err)
	require.NoError(t, coordinator.HandleCommandResult(ctx, cmd))

	// The session is torn down and the debit returned
	got, _ := store.GetRig(ctx, rig.ID)
	assert.Nil(t, got.SessionState)
	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(250), balance)
}

func TestCoordinator_Sweep_MovementTimeoutRefunds(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	got, _ := store.GetRig(ctx, rig.ID)
	got.SessionState.SeatedAt = time.Now().Add(-31 * time.Second)

	require.NoError(t, coordinator.Sweep(ctx))

	got, _ = store.GetRig(ctx, rig.ID)
	assert.Nil(t, got.SessionState)

	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(250), balance)
}

func TestCoordinator_Sweep_ExpiryCompletesWithoutRefund(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	sample := &models.TelemetrySample{RigID: rig.ID, Moving: true}
	require.NoError(t, coordinator.HandleTelemetry(ctx, rig.ID, sample))

	got, _ := store.GetRig(ctx, rig.ID)
	started := time.Now().Add(-61 * time.Second)
	got.SessionState.StartTime = &started

	require.NoError(t, coordinator.Sweep(ctx))

	got, _ = store.GetRig(ctx, rig.ID)
	assert.Nil(t, got.SessionState)

	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(150), balance)

	cmds, _ := store.GetPendingCommands(ctx, rig.ID, 10)
	var actions []models.CommandAction
	for _, cmd := range cmds {
		actions = append(actions, cmd.Action)
	}
	assert.Contains(t, actions, models.CommandActionEndSession)
}

func TestCoordinator_Sweep_StaleHeartbeatRefunds(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	stale := time.Now().Add(-2 * time.Minute)
	rig.HeartbeatAt = &stale

	require.NoError(t, coordinator.Sweep(ctx))

	got, _ := store.GetRig(ctx, rig.ID)
	assert.Nil(t, got.SessionState)

	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(250), balance)

	assert.NotEmpty(t, store.Events(models.EventTypeHeartbeatStale))
}

func TestCoordinator_Sweep_FreshSessionUntouched(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, accountID)
	require.NoError(t, err)

	require.NoError(t, coordinator.Sweep(ctx))

	got, _ := store.GetRig(ctx, rig.ID)
	assert.NotNil(t, got.SessionState)
}

func TestCoordinator_RigsAreIndependent(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rigA := seedRig(t, store, true)
	rigB := seedRig(t, store, true)
	accountID := seedAccount(store, 250)
	other := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rigA.ID, accountID)
	require.NoError(t, err)
	_, err = coordinator.JoinQueue(ctx, rigB.ID, other)
	require.NoError(t, err)

	_, err = coordinator.Activate(ctx, rigA.ID, accountID)
	require.NoError(t, err)

	// A session on rig A does not block rig B
	_, err = coordinator.Activate(ctx, rigB.ID, other)
	require.NoError(t, err)
}

func TestCoordinator_TeardownCancelsStaleSeatCommand(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	first := seedAccount(store, 250)
	second := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, first)
	require.NoError(t, err)
	_, err = coordinator.JoinQueue(ctx, rig.ID, second)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, first)
	require.NoError(t, err)

	// Agent never picks up the seat command and movement never comes.
	got, _ := store.GetRig(ctx, rig.ID)
	got.SessionState.SeatedAt = time.Now().Add(-31 * time.Second)
	require.NoError(t, coordinator.Sweep(ctx))

	cmds, _ := store.GetPendingCommands(ctx, rig.ID, 10)
	for _, cmd := range cmds {
		assert.NotEqual(t, models.CommandActionSeatDriver, cmd.Action)
	}

	// The abandoned seat command does not block the next holder
	_, err = coordinator.Activate(ctx, rig.ID, second)
	require.NoError(t, err)
}

func TestCoordinator_CompleteCompactsQueuePositions(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	first := seedAccount(store, 250)
	second := seedAccount(store, 250)
	third := seedAccount(store, 250)

	for _, accountID := range []uuid.UUID{first, second, third} {
		_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
		require.NoError(t, err)
	}

	_, err := coordinator.Activate(ctx, rig.ID, first)
	require.NoError(t, err)

	completed, err := coordinator.Complete(ctx, rig.ID, "ended by holder", false)
	require.NoError(t, err)
	require.True(t, completed)

	// Everyone behind the finished session moves up one
	entry, err := store.GetQueueEntry(ctx, rig.ID, second)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)

	entry, err = store.GetQueueEntry(ctx, rig.ID, third)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Position)

	// The new front can take its turn
	_, err = coordinator.Activate(ctx, rig.ID, second)
	require.NoError(t, err)
}

func TestCoordinator_StaleMovementWriteLosesToNewSession(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	first := seedAccount(store, 250)
	second := seedAccount(store, 250)

	_, err := coordinator.JoinQueue(ctx, rig.ID, first)
	require.NoError(t, err)
	_, err = coordinator.JoinQueue(ctx, rig.ID, second)
	require.NoError(t, err)
	_, err = coordinator.Activate(ctx, rig.ID, first)
	require.NoError(t, err)

	// A slow telemetry path observed the first holder's pre-movement state
	got, _ := store.GetRig(ctx, rig.ID)
	stale := *got.SessionState
	now := time.Now()
	stale.Active = true
	stale.WaitingForMovement = false
	stale.StartTime = &now

	// Before its write lands, the session is torn down and the next holder
	// activates.
	completed, err := coordinator.Complete(ctx, rig.ID, "ended by holder", false)
	require.NoError(t, err)
	require.True(t, completed)
	_, err = coordinator.Activate(ctx, rig.ID, second)
	require.NoError(t, err)

	err = store.UpdateRigSessionState(ctx, rig.ID, &stale)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, _ = store.GetRig(ctx, rig.ID)
	require.NotNil(t, got.SessionState)
	assert.Equal(t, second, got.SessionState.HolderID)
	assert.True(t, got.SessionState.WaitingForMovement)
}

func TestCoordinator_ConcurrentActivationsAdmitBalanceWorth(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()

	// 250 credits at 100 per session admits exactly two of four rigs
	accountID := seedAccount(store, 250)
	rigs := make([]*models.Rig, 4)
	for i := range rigs {
		rigs[i] = seedRig(t, store, true)
		_, err := coordinator.JoinQueue(ctx, rigs[i].ID, accountID)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([]error, len(rigs))
	for i := range rigs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = coordinator.Activate(ctx, rigs[i].ID, accountID)
		}(i)
	}
	wg.Wait()

	var admitted, rejected int
	for _, err := range results {
		if err == nil {
			admitted++
			continue
		}
		var sessErr *Error
		require.ErrorAs(t, err, &sessErr)
		require.Equal(t, KindInsufficientCredits, sessErr.Kind)
		rejected++
	}
	assert.Equal(t, 2, admitted)
	assert.Equal(t, 2, rejected)

	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(50), balance)
}

func TestCoordinator_ActivationRaceHasOneWinner(t *testing.T) {
	coordinator, store := newTestCoordinator()
	ctx := context.Background()
	rig := seedRig(t, store, true)
	accountID := seedAccount(store, 500)

	_, err := coordinator.JoinQueue(ctx, rig.ID, accountID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = coordinator.Activate(ctx, rig.ID, accountID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var sessErr *Error
		require.ErrorAs(t, err, &sessErr)
	}
	assert.Equal(t, 1, wins)

	// Only the winner's debit sticks
	balance, _ := store.GetBalance(ctx, accountID)
	assert.Equal(t, int64(400), balance)

	entry, err := store.GetQueueEntry(ctx, rig.ID, accountID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusActive, entry.Status)
}
