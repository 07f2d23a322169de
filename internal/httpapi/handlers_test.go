package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rigidity/lobby-backend/internal/lobby"
	"github.com/rigidity/lobby-backend/internal/matchmaking"
	"github.com/rigidity/lobby-backend/internal/room"
	"github.com/rigidity/lobby-backend/pkg/types"
)

type stubMM struct {
	nextID int
}

func (s *stubMM) StartSearch(ctx context.Context, roster []matchmaking.Player, configuration string) (string, error) {
	s.nextID++
	return fmt.Sprintf("ticket-%d", s.nextID), nil
}

func (s *stubMM) CancelSearch(ctx context.Context, ticketID string) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := room.NewMemoryStore()
	for i := int64(1); i <= 4; i++ {
		store.PutUser(room.User{ID: i, Nickname: fmt.Sprintf("player-%d", i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	lb := lobby.NewLobby(ctx, log)
	svc := room.NewService(store, &stubMM{}, lb, log)
	lb.SetCleanup(func(ctx context.Context, userID int64) { _ = svc.HandleDisconnect(ctx, userID) })

	srv := httptest.NewServer(SetupRoutes(NewHandlers(svc, "mm-secret", log), lb, log))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, userID int64, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) types.RoomSnapshot {
	t.Helper()
	var snap types.RoomSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func TestRoutes_RequireIdentity(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/api/custom-rooms", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateJoinFlow(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/custom-rooms", 1, room.RoomData{
		Label: "ranked 2s", NbTeams: 2, MaxPlayersPerTeam: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decodeSnapshot(t, resp)
	assert.Equal(t, int64(1), snap.OwnerID)
	require.Len(t, snap.Slots, 1)

	roomPath := fmt.Sprintf("/api/custom-rooms/%d", snap.ID)

	resp = do(t, srv, http.MethodPut, roomPath+"/join", 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	joined := decodeSnapshot(t, resp)
	assert.Len(t, joined.Slots, 2)

	// Room is full now.
	resp = do(t, srv, http.MethodPut, roomPath+"/join", 3, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Listing shows the room.
	resp = do(t, srv, http.MethodGet, "/api/custom-rooms", 3, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rooms []types.RoomSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	assert.Len(t, rooms, 1)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/custom-rooms", 1, room.RoomData{
		Label: "r", NbTeams: 2, MaxPlayersPerTeam: 1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decodeSnapshot(t, resp)
	roomPath := fmt.Sprintf("/api/custom-rooms/%d", snap.ID)

	// Unknown room.
	resp = do(t, srv, http.MethodPut, "/api/custom-rooms/999/join", 2, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Non-owner update.
	resp = do(t, srv, http.MethodPut, roomPath, 2, room.RoomData{Label: "x", NbTeams: 2, MaxPlayersPerTeam: 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Invalid archetype.
	resp = do(t, srv, http.MethodPut, roomPath+"/select-archetype/wizard", 1, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Bad path id.
	resp = do(t, srv, http.MethodPut, "/api/custom-rooms/abc/join", 2, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMatchmakingEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/custom-rooms", 1, room.RoomData{
		Label: "r", NbTeams: 1, MaxPlayersPerTeam: 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decodeSnapshot(t, resp)
	roomPath := fmt.Sprintf("/api/custom-rooms/%d", snap.ID)

	resp = do(t, srv, http.MethodPut, roomPath+"/join", 2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodPut, roomPath+"/start-matchmaking", 1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	searching := decodeSnapshot(t, resp)
	assert.True(t, searching.Searching)

	// Slot mutation while searching.
	resp = do(t, srv, http.MethodPut, roomPath+"/slot", 2, map[string]int{"team": 0, "team_position": 0})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Callback without the shared key.
	ev := matchmaking.Event{TicketID: "ticket-1", Type: matchmaking.EventMatchFailed}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/matchmaking/events", encode(t, ev))
	require.NoError(t, err)
	raw, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusForbidden, raw.StatusCode)

	// With the key the search fails and the room returns to forming.
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/api/matchmaking/events", encode(t, ev))
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", "mm-secret")
	raw, err = srv.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusNoContent, raw.StatusCode)

	resp = do(t, srv, http.MethodPut, roomPath+"/slot", 2, map[string]int{"team": 0, "team_position": 1})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func encode(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}
