package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// apiRequest performs a JSON request against the test server and decodes the
// response body into a generic map.
func apiRequest(t *testing.T, server *httptest.Server, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(newRouter())
	t.Cleanup(server.Close)
	return server
}

func TestAPIRoomLifecycle(t *testing.T) {
	setupTest(t)
	server := newAPIServer(t)

	// Create a room.
	status, created := apiRequest(t, server, http.MethodPost, "/api/rooms", map[string]any{
		"capacity": 3, "num_wolves": 1,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create room: status %d, body %v", status, created)
	}
	adminToken, _ := created["admin_token"].(string)
	if adminToken == "" {
		t.Fatal("create room should return the admin token")
	}
	roomData := created["room"].(map[string]any)
	code := roomData["code"].(string)

	// The public view never leaks tokens.
	status, public := apiRequest(t, server, http.MethodGet, "/api/rooms/"+code, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("get room: status %d", status)
	}
	if _, leaked := public["admin_token"]; leaked {
		t.Error("public room view should not carry the admin token")
	}

	// Three players join.
	tokens := make(map[string]string) // nickname -> token
	ids := make(map[string]int64)
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		status, joined := apiRequest(t, server, http.MethodPost, "/api/rooms/"+code+"/join",
			map[string]any{"nickname": name}, nil)
		if status != http.StatusCreated {
			t.Fatalf("join %s: status %d, body %v", name, status, joined)
		}
		tokens[name] = joined["player_token"].(string)
		ids[name] = int64(joined["player"].(map[string]any)["id"].(float64))
	}

	// A duplicate nickname conflicts.
	status, _ = apiRequest(t, server, http.MethodPost, "/api/rooms/"+code+"/join",
		map[string]any{"nickname": "Alice"}, nil)
	if status != http.StatusConflict {
		t.Errorf("duplicate nickname: status %d, want %d", status, http.StatusConflict)
	}

	// Starting needs the admin token.
	status, _ = apiRequest(t, server, http.MethodPost, "/api/rooms/"+code+"/start", nil,
		map[string]string{adminTokenHeader: "wrong"})
	if status != http.StatusForbidden {
		t.Errorf("start with bad token: status %d, want %d", status, http.StatusForbidden)
	}
	status, started := apiRequest(t, server, http.MethodPost, "/api/rooms/"+code+"/start", nil,
		map[string]string{adminTokenHeader: adminToken})
	if status != http.StatusOK {
		t.Fatalf("start: status %d, body %v", status, started)
	}
	if started["phase"] != PhaseNight {
		t.Errorf("start reported phase %v, want %s", started["phase"], PhaseNight)
	}

	// The state view is public and shows the phase but no roles.
	status, view := apiRequest(t, server, http.MethodGet, "/api/rooms/"+code+"/state", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("state: status %d", status)
	}
	if view["phase"] != PhaseNight {
		t.Errorf("state phase = %v, want %s", view["phase"], PhaseNight)
	}
	for _, p := range view["players"].([]any) {
		if _, leaked := p.(map[string]any)["role"]; leaked {
			t.Error("state view should not leak roles")
		}
	}

	// A player reads their own role with the player token.
	alicePath := fmt.Sprintf("/api/players/%d/role", ids["Alice"])
	status, _ = apiRequest(t, server, http.MethodGet, alicePath, nil,
		map[string]string{playerTokenHeader: tokens["Bob"]})
	if status != http.StatusForbidden {
		t.Errorf("role with wrong token: status %d, want %d", status, http.StatusForbidden)
	}
	status, roleResp := apiRequest(t, server, http.MethodGet, alicePath, nil,
		map[string]string{playerTokenHeader: tokens["Alice"]})
	if status != http.StatusOK {
		t.Fatalf("role: status %d", status)
	}
	if roleResp["role"] == "" {
		t.Error("role should be assigned after start")
	}

	// The audit trail has the start entry.
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/logs?room_code="+code, nil)
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	defer resp.Body.Close()
	var logs []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("logs should contain the game start entry")
	}
}

func TestAPIUnknownRoom(t *testing.T) {
	setupTest(t)
	server := newAPIServer(t)

	status, _ := apiRequest(t, server, http.MethodGet, "/api/rooms/NOPE42", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown room: status %d, want %d", status, http.StatusNotFound)
	}

	status, _ = apiRequest(t, server, http.MethodPost, "/api/rooms/NOPE42/join",
		map[string]any{"nickname": "Alice"}, nil)
	if status != http.StatusNotFound {
		t.Errorf("join unknown room: status %d, want %d", status, http.StatusNotFound)
	}
}

func TestAPIValidationErrors(t *testing.T) {
	setupTest(t)
	server := newAPIServer(t)

	status, body := apiRequest(t, server, http.MethodPost, "/api/rooms",
		map[string]any{"capacity": 0}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("zero capacity: status %d, want %d", status, http.StatusBadRequest)
	}
	if body["kind"] != string(KindValidation) {
		t.Errorf("kind = %v, want %s", body["kind"], KindValidation)
	}
}

func TestAPIActionsAndVotes(t *testing.T) {
	setupTest(t)
	server := newAPIServer(t)

	room := makeRoom(t, RoomConfig{Capacity: 4, NumWolves: 1})
	players := fillRoom(t, room, 4)
	players = startScriptedGame(t, room, players, []string{RoleWolf, RoleCitizen, RoleCitizen, RoleCitizen})
	wolf, citizen := players[0], players[1]

	// The wolf picks a victim over HTTP.
	actionPath := fmt.Sprintf("/api/players/%d/action", wolf.ID)
	status, body := apiRequest(t, server, http.MethodPost, actionPath,
		map[string]any{"target_id": citizen.ID},
		map[string]string{playerTokenHeader: wolf.Token})
	if status != http.StatusOK {
		t.Fatalf("night action: status %d, body %v", status, body)
	}

	// Citizens have no night action: 403 with the kind attached.
	citizenPath := fmt.Sprintf("/api/players/%d/action", citizen.ID)
	status, body = apiRequest(t, server, http.MethodPost, citizenPath,
		map[string]any{"target_id": wolf.ID},
		map[string]string{playerTokenHeader: citizen.Token})
	if status != http.StatusForbidden {
		t.Errorf("citizen action: status %d, want %d", status, http.StatusForbidden)
	}
	if body["kind"] != string(KindNotPermitted) {
		t.Errorf("kind = %v, want %s", body["kind"], KindNotPermitted)
	}

	// The admin resolves the night and walks to voting.
	advancePath := "/api/rooms/" + room.Code + "/advance"
	auth := map[string]string{adminTokenHeader: room.AdminToken}
	status, body = apiRequest(t, server, http.MethodPost, advancePath, nil, auth)
	if status != http.StatusOK || body["phase"] != PhaseDay {
		t.Fatalf("advance to day: status %d, body %v", status, body)
	}
	if p := reloadPlayer(t, citizen.ID); p.IsAlive {
		t.Fatal("the wolf's victim should be dead")
	}
	status, body = apiRequest(t, server, http.MethodPost, advancePath, nil, auth)
	if status != http.StatusOK || body["phase"] != PhaseVoting {
		t.Fatalf("advance to voting: status %d, body %v", status, body)
	}

	// The surviving citizen votes out the wolf; the game ends.
	votePath := fmt.Sprintf("/api/players/%d/vote", players[2].ID)
	status, body = apiRequest(t, server, http.MethodPost, votePath,
		map[string]any{"target_id": wolf.ID},
		map[string]string{playerTokenHeader: players[2].Token})
	if status != http.StatusOK {
		t.Fatalf("vote: status %d, body %v", status, body)
	}
	status, body = apiRequest(t, server, http.MethodPost, advancePath, nil, auth)
	if status != http.StatusOK || body["phase"] != PhaseFinished {
		t.Fatalf("final advance: status %d, body %v", status, body)
	}
}
