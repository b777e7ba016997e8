package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loseyco/revshareracing-sub002/internal/config"
	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/session"
	"github.com/loseyco/revshareracing-sub002/internal/storage/storetest"
	"github.com/loseyco/revshareracing-sub002/pkg/crypto"
)

func newTestServer() (*RESTServer, *storetest.MemStore) {
	store := storetest.NewMemStore()

	cfg := &config.Config{}
	cfg.Server.Name = "Rig Control Server"
	cfg.Server.Version = "test"
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = time.Hour
	cfg.Session = config.SessionConfig{
		CostCredits:      100,
		DurationSeconds:  60,
		HeartbeatOnline:  60 * time.Second,
		MovementGrace:    30 * time.Second,
		HeartbeatGrace:   90 * time.Second,
		SweepInterval:    5 * time.Second,
		CommandPollBatch: 10,
	}

	presence := session.NewPresence(cfg.Session.HeartbeatOnline)
	coordinator := session.NewCoordinator(store, presence, cfg.Session, nil)

	return NewRESTServer(cfg, store, coordinator), store
}

func seedTestUser(t *testing.T, s *RESTServer, store *storetest.MemStore, admin bool) (*models.User, string) {
	t.Helper()

	user := &models.User{
		Email:       fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		DisplayName: "Test Driver",
		IsAdmin:     admin,
		IsActive:    true,
		Settings:    models.Variables{"password": "driving-fast"},
	}
	require.NoError(t, store.CreateUser(context.Background(), user))

	token, _, err := s.auth.GenerateTokenPair(user)
	require.NoError(t, err)

	return user, token
}

func seedTestRig(t *testing.T, store *storetest.MemStore) (*models.Rig, string) {
	t.Helper()

	apiKey, hash, err := crypto.GenerateAPIKey()
	require.NoError(t, err)

	now := time.Now()
	ready := true
	rig := &models.Rig{
		Name:          "rig-" + uuid.NewString()[:8],
		Claimed:       true,
		APIKeyHash:    hash,
		HeartbeatAt:   &now,
		HardwareReady: &ready,
	}
	require.NoError(t, store.CreateRig(context.Background(), rig))

	return rig, apiKey
}

func doJSON(t *testing.T, s *RESTServer, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func doAgent(t *testing.T, s *RESTServer, method, path string, rig *models.Rig, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rig-ID", rig.ID.String())
	req.Header.Set("X-API-Key", apiKey)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestLogin(t *testing.T) {
	s, store := newTestServer()
	user, _ := seedTestUser(t, s, store, false)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    user.Email,
		"password": "driving-fast",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["access_token"])
	assert.NotEmpty(t, resp["refresh_token"])
}

func TestLogin_BadPassword(t *testing.T) {
	s, store := newTestServer()
	user, _ := seedTestUser(t, s, store, false)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    user.Email,
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_RequiresToken(t *testing.T) {
	s, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRig_ReturnsKeyOnce(t *testing.T) {
	s, store := newTestServer()
	_, token := seedTestUser(t, s, store, true)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rigs", token, map[string]string{
		"name":     "corner-rig",
		"location": "arcade floor 2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Rig    models.Rig `json:"rig"`
		APIKey string     `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.APIKey)

	// The stored rig carries only the hash
	stored, err := store.GetRig(context.Background(), resp.Rig.ID)
	require.NoError(t, err)
	assert.NotEqual(t, resp.APIKey, stored.APIKeyHash)
	assert.True(t, crypto.VerifyAPIKey(resp.APIKey, stored.APIKeyHash))
}

func TestCreateRig_AdminOnly(t *testing.T) {
	s, store := newTestServer()
	_, token := seedTestUser(t, s, store, false)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rigs", token, map[string]string{
		"name": "corner-rig",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQueueFlow(t *testing.T) {
	s, store := newTestServer()
	user, token := seedTestUser(t, s, store, false)
	rig, apiKey := seedTestRig(t, store)
	store.SetBalance(user.ID, 250)

	base := "/api/v1/rigs/" + rig.ID.String()

	// Join
	rec := doJSON(t, s, http.MethodPost, base+"/queue", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry models.QueueEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, 1, entry.Position)

	// Duplicate join is a conflict
	rec = doJSON(t, s, http.MethodPost, base+"/queue", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Activate
	rec = doJSON(t, s, http.MethodPost, base+"/session", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The agent sees the seat command
	rec = doAgent(t, s, http.MethodGet, "/api/v1/agent/commands", rig, apiKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var poll struct {
		Commands []models.RigCommand `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	require.Len(t, poll.Commands, 1)
	assert.Equal(t, models.CommandActionSeatDriver, poll.Commands[0].Action)

	// Complete the session
	rec = doJSON(t, s, http.MethodDelete, base+"/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Completed bool `json:"completed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Completed)
}

func TestActivate_NotInQueue(t *testing.T) {
	s, store := newTestServer()
	_, token := seedTestUser(t, s, store, false)
	rig, _ := seedTestRig(t, store)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rigs/"+rig.ID.String()+"/session", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_IN_QUEUE", resp["code"])
}

func TestActivate_InsufficientCredits(t *testing.T) {
	s, store := newTestServer()
	user, token := seedTestUser(t, s, store, false)
	rig, _ := seedTestRig(t, store)
	store.SetBalance(user.ID, 10)

	base := "/api/v1/rigs/" + rig.ID.String()
	rec := doJSON(t, s, http.MethodPost, base+"/queue", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodPost, base+"/session", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INSUFFICIENT_CREDITS", resp["code"])
}

func TestAgentAuth_BadKey(t *testing.T) {
	s, store := newTestServer()
	rig, _ := seedTestRig(t, store)

	rec := doAgent(t, s, http.MethodGet, "/api/v1/agent/commands", rig, "rig_not-the-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentHeartbeat_RecordsReadiness(t *testing.T) {
	s, store := newTestServer()
	rig, apiKey := seedTestRig(t, store)

	ready := true
	rec := doAgent(t, s, http.MethodPost, "/api/v1/agent/heartbeat", rig, apiKey, map[string]interface{}{
		"hardware_ready": ready,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.GetRig(context.Background(), rig.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.HardwareReady)
	assert.True(t, *stored.HardwareReady)
	assert.NotNil(t, stored.HeartbeatAt)
}

func TestAgentCompleteCommand_ExactlyOnce(t *testing.T) {
	s, store := newTestServer()
	user, token := seedTestUser(t, s, store, false)
	rig, apiKey := seedTestRig(t, store)
	store.SetBalance(user.ID, 250)

	base := "/api/v1/rigs/" + rig.ID.String()
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, base+"/queue", token, nil).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, base+"/session", token, nil).Code)

	rec := doAgent(t, s, http.MethodGet, "/api/v1/agent/commands", rig, apiKey, nil)
	var poll struct {
		Commands []models.RigCommand `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	require.Len(t, poll.Commands, 1)

	completePath := "/api/v1/agent/commands/" + poll.Commands[0].ID.String() + "/complete"
	body := map[string]interface{}{"status": "completed"}

	rec = doAgent(t, s, http.MethodPost, completePath, rig, apiKey, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second report of the same command is rejected
	rec = doAgent(t, s, http.MethodPost, completePath, rig, apiKey, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAgentTelemetry_StartsSession(t *testing.T) {
	s, store := newTestServer()
	user, token := seedTestUser(t, s, store, false)
	rig, apiKey := seedTestRig(t, store)
	store.SetBalance(user.ID, 250)

	base := "/api/v1/rigs/" + rig.ID.String()
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, base+"/queue", token, nil).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, base+"/session", token, nil).Code)

	rec := doAgent(t, s, http.MethodPost, "/api/v1/agent/telemetry", rig, apiKey, map[string]interface{}{
		"speed_kph": 35.5,
		"moving":    true,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err := store.GetRig(context.Background(), rig.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SessionState)
	assert.True(t, stored.SessionState.Active)
}

func TestCompleteSession_HolderOnly(t *testing.T) {
	s, store := newTestServer()
	holder, holderToken := seedTestUser(t, s, store, false)
	_, otherToken := seedTestUser(t, s, store, false)
	rig, _ := seedTestRig(t, store)
	store.SetBalance(holder.ID, 250)

	base := "/api/v1/rigs/" + rig.ID.String()
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, base+"/queue", holderToken, nil).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, base+"/session", holderToken, nil).Code)

	rec := doJSON(t, s, http.MethodDelete, base+"/session", otherToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, base+"/session", holderToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTopUp_AdminOnly(t *testing.T) {
	s, store := newTestServer()
	user, userToken := seedTestUser(t, s, store, false)
	_, adminToken := seedTestUser(t, s, store, true)

	body := map[string]interface{}{
		"account_id": user.ID.String(),
		"amount":     500,
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/credits/topup", userToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/credits/topup", adminToken, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/credits/balance", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(500), resp.Balance)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
