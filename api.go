package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	adminTokenHeader  = "X-Admin-Token"
	playerTokenHeader = "X-Player-Token"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("writeJSON", err)
	}
}

// writeError renders a game error as {"error", "kind"}; storage faults are
// logged and surface as a bare 500.
func writeError(w http.ResponseWriter, context string, err error) {
	status := errorStatus(err)
	var ge *GameError
	if status == http.StatusInternalServerError || !errors.As(err, &ge) {
		logError(context, err)
		writeJSON(w, status, map[string]any{"error": "Something went wrong"})
		return
	}
	writeJSON(w, status, map[string]any{"error": ge.Message, "kind": ge.Kind})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, map[string]any{"error": "Unauthorized"})
}

// roomResponse is the public shape of a room, without tokens.
func roomResponse(room *Room) (map[string]any, error) {
	players, err := getPlayersByRoomID(room.ID)
	if err != nil {
		return nil, err
	}
	list := make([]PlayerView, 0, len(players))
	for _, p := range players {
		list = append(list, PlayerView{
			ID:            p.ID,
			Nickname:      p.Nickname,
			IsAlive:       p.IsAlive,
			IsLeader:      p.IsLeader,
			RemainingTime: p.SpeakingBudget - p.SpeakingUsed,
		})
	}
	return map[string]any{
		"code":           room.Code,
		"status":         room.Status,
		"capacity":       room.Capacity,
		"num_wolves":     room.NumWolves,
		"num_seers":      room.NumSeers,
		"num_protectors": room.NumProtectors,
		"num_hunters":    room.NumHunters,
		"created_at":     room.CreatedAt,
		"players":        list,
		"player_count":   len(list),
	}, nil
}

func handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var cfg RoomConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "handleCreateRoom: decode", errValidation("invalid request body"))
		return
	}

	room, err := createRoom(cfg)
	if err != nil {
		writeError(w, "handleCreateRoom: createRoom", err)
		return
	}

	resp, err := roomResponse(room)
	if err != nil {
		writeError(w, "handleCreateRoom: roomResponse", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"room":        resp,
		"admin_token": room.AdminToken,
	})
}

func handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := getRoomByCode(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, "handleGetRoom: getRoomByCode", err)
		return
	}
	resp, err := roomResponse(room)
	if err != nil {
		writeError(w, "handleGetRoom: roomResponse", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	room, err := getRoomByCode(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, "handleJoinRoom: getRoomByCode", err)
		return
	}

	var body struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "handleJoinRoom: decode", errValidation("invalid request body"))
		return
	}

	player, err := joinRoom(room, body.Nickname)
	if err != nil {
		writeError(w, "handleJoinRoom: joinRoom", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"player": map[string]any{
			"id":       player.ID,
			"nickname": player.Nickname,
			"is_alive": player.IsAlive,
		},
		"player_token": player.Token,
	})
}

// adminRoom loads the room and checks the admin token header. The check is a
// pure header-equality predicate; authorization policy lives outside the core.
func adminRoom(w http.ResponseWriter, r *http.Request) *Room {
	room, err := getRoomByCode(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, "adminRoom: getRoomByCode", err)
		return nil
	}
	if r.Header.Get(adminTokenHeader) != room.AdminToken {
		writeUnauthorized(w)
		return nil
	}
	return room
}

func handleStartGame(w http.ResponseWriter, r *http.Request) {
	room := adminRoom(w, r)
	if room == nil {
		return
	}
	if err := startGame(room); err != nil {
		writeError(w, "handleStartGame: startGame", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Game started",
		"phase":        PhaseNight,
		"night_number": 1,
	})
}

func handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	room := adminRoom(w, r)
	if room == nil {
		return
	}
	if err := advancePhase(room); err != nil {
		writeError(w, "handleAdvancePhase: advancePhase", err)
		return
	}

	state, err := getGameState(room.ID)
	if err != nil {
		writeError(w, "handleAdvancePhase: getGameState", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Phase advanced",
		"phase":   state.Phase,
	})
}

func handleStartElection(w http.ResponseWriter, r *http.Request) {
	room := adminRoom(w, r)
	if room == nil {
		return
	}
	if err := startLeaderElection(room); err != nil {
		writeError(w, "handleStartElection: startLeaderElection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Leader election started"})
}

func handleGetState(w http.ResponseWriter, r *http.Request) {
	room, err := getRoomByCode(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, "handleGetState: getRoomByCode", err)
		return
	}
	view, err := getStateView(room)
	if err != nil {
		writeError(w, "handleGetState: getStateView", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// tokenPlayer loads the player from the path and checks the player token.
func tokenPlayer(w http.ResponseWriter, r *http.Request) *Player {
	playerID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, "tokenPlayer: parse id", errValidation("invalid player id"))
		return nil
	}
	player, err := getPlayerByID(playerID)
	if err != nil {
		writeError(w, "tokenPlayer: getPlayerByID", err)
		return nil
	}
	if r.Header.Get(playerTokenHeader) != player.Token {
		writeUnauthorized(w)
		return nil
	}
	return player
}

func handleGetRole(w http.ResponseWriter, r *http.Request) {
	player := tokenPlayer(w, r)
	if player == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": player.Role})
}

type targetRequest struct {
	TargetID int64 `json:"target_id"`
}

func decodeTarget(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var body targetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, "decodeTarget", errValidation("invalid request body"))
		return 0, false
	}
	return body.TargetID, true
}

func handleNightAction(w http.ResponseWriter, r *http.Request) {
	player := tokenPlayer(w, r)
	if player == nil {
		return
	}
	targetID, ok := decodeTarget(w, r)
	if !ok {
		return
	}
	result, err := submitNightAction(player, targetID)
	if err != nil {
		writeError(w, "handleNightAction: submitNightAction", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleVote(w http.ResponseWriter, r *http.Request) {
	player := tokenPlayer(w, r)
	if player == nil {
		return
	}
	targetID, ok := decodeTarget(w, r)
	if !ok {
		return
	}
	if err := submitVote(player, targetID); err != nil {
		writeError(w, "handleVote: submitVote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Vote submitted"})
}

func handleHunterRevenge(w http.ResponseWriter, r *http.Request) {
	player := tokenPlayer(w, r)
	if player == nil {
		return
	}
	targetID, ok := decodeTarget(w, r)
	if !ok {
		return
	}
	if err := hunterRevenge(player, targetID); err != nil {
		writeError(w, "handleHunterRevenge: hunterRevenge", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Hunter revenge executed"})
}

func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room_code")
	if code == "" {
		writeJSON(w, http.StatusOK, []GameLog{})
		return
	}
	room, err := getRoomByCode(code)
	if err != nil {
		writeError(w, "handleGetLogs: getRoomByCode", err)
		return
	}
	logs, err := getGameLogs(room.ID)
	if err != nil {
		writeError(w, "handleGetLogs: getGameLogs", err)
		return
	}
	if logs == nil {
		logs = []GameLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// newRouter wires every API route. Kept separate from main so tests can
// mount the full surface on an httptest server.
func newRouter() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/rooms", handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}", handleGetRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/join", handleJoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/start", handleStartGame).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/advance", handleAdvancePhase).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/election", handleStartElection).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}/state", handleGetState).Methods(http.MethodGet)
	api.HandleFunc("/players/{id}/role", handleGetRole).Methods(http.MethodGet)
	api.HandleFunc("/players/{id}/action", handleNightAction).Methods(http.MethodPost)
	api.HandleFunc("/players/{id}/vote", handleVote).Methods(http.MethodPost)
	api.HandleFunc("/players/{id}/revenge", handleHunterRevenge).Methods(http.MethodPost)
	api.HandleFunc("/logs", handleGetLogs).Methods(http.MethodGet)

	r.HandleFunc("/ws/{code}", handleWebSocket)
	return r
}
