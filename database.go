package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

// Room statuses
const (
	RoomWaiting  = "waiting"
	RoomPlaying  = "playing"
	RoomFinished = "finished"
)

// Game phases
const (
	PhaseSetup          = "setup"
	PhaseNight          = "night"
	PhaseDay            = "day"
	PhaseVoting         = "voting"
	PhaseLeaderElection = "leader_election"
	PhaseFinished       = "finished"
)

// Roles
const (
	RoleWolf      = "wolf"
	RoleCitizen   = "citizen"
	RoleSeer      = "seer"
	RoleProtector = "protector"
	RoleHunter    = "hunter"
)

// Action types
const (
	ActionWolfVote         = "wolf_vote"
	ActionSeerInspect      = "seer_inspect"
	ActionProtectorProtect = "protector_protect"
)

// Vote types
const (
	VoteElimination = "elimination"
	VoteLeader      = "leader"
)

type Room struct {
	ID            int64     `db:"id"`
	Code          string    `db:"code"`
	AdminToken    string    `db:"admin_token"`
	Capacity      int       `db:"capacity"`
	Status        string    `db:"status"`
	NumWolves     int       `db:"num_wolves"`
	NumSeers      int       `db:"num_seers"`
	NumProtectors int       `db:"num_protectors"`
	NumHunters    int       `db:"num_hunters"`
	CreatedAt     time.Time `db:"created_at"`
}

type Player struct {
	ID              int64     `db:"id"`
	RoomID          int64     `db:"room_id"`
	Nickname        string    `db:"nickname"`
	Token           string    `db:"token"`
	Role            string    `db:"role"` // empty until roles are assigned
	IsAlive         bool      `db:"is_alive"`
	IsLeader        bool      `db:"is_leader"`
	LastProtectedID *int64    `db:"last_protected_id"` // protector only
	SpeakingBudget  int       `db:"speaking_budget"`   // seconds
	SpeakingUsed    int       `db:"speaking_used"`     // seconds
	JoinedAt        time.Time `db:"joined_at"`
}

type GameState struct {
	ID               int64      `db:"id"`
	RoomID           int64      `db:"room_id"`
	Phase            string     `db:"phase"`
	NightNumber      int        `db:"night_number"`
	DayNumber        int        `db:"day_number"`
	TimerEnd         *time.Time `db:"timer_end"`
	CurrentSpeakerID *int64     `db:"current_speaker_id"`

	// Advisory completion flags: surfaced to clients only, never consulted
	// when deciding whether a phase may advance.
	WolvesVoted    bool `db:"wolves_voted"`
	SeerActed      bool `db:"seer_acted"`
	ProtectorActed bool `db:"protector_acted"`
}

// Action is a private night submission, unique per
// (player, action_type, night_number). Resubmission overwrites the target.
type Action struct {
	ID          int64   `db:"id"`
	PlayerID    int64   `db:"player_id"`
	ActionType  string  `db:"action_type"`
	TargetID    *int64  `db:"target_id"`
	NightNumber int     `db:"night_number"`
	ResultData  *string `db:"result_data"` // JSON, seer inspection results
}

// Vote is unique per (player, vote_type, vote_phase); vote_phase is the
// day_number the vote was cast in.
type Vote struct {
	ID        int64  `db:"id"`
	PlayerID  int64  `db:"player_id"`
	TargetID  int64  `db:"target_id"`
	VoteType  string `db:"vote_type"`
	VotePhase int    `db:"vote_phase"`
}

// GameLog rows are the append-only narrative and audit trail of a room.
type GameLog struct {
	ID        int64     `db:"id"`
	RoomID    int64     `db:"room_id"`
	Phase     string    `db:"phase"`
	Message   string    `db:"message"`
	Metadata  *string   `db:"metadata"` // JSON
	CreatedAt time.Time `db:"created_at"`
}

func getRoomByCode(code string) (*Room, error) {
	var room Room
	err := db.Get(&room, `
		SELECT rowid as id, code, admin_token, capacity, status,
			num_wolves, num_seers, num_protectors, num_hunters, created_at
		FROM room WHERE code = ?`, code)
	if err == sql.ErrNoRows {
		return nil, errNotFound("room %s not found", code)
	}
	return &room, err
}

func getRoomByID(roomID int64) (*Room, error) {
	var room Room
	err := db.Get(&room, `
		SELECT rowid as id, code, admin_token, capacity, status,
			num_wolves, num_seers, num_protectors, num_hunters, created_at
		FROM room WHERE rowid = ?`, roomID)
	if err == sql.ErrNoRows {
		return nil, errNotFound("room %d not found", roomID)
	}
	return &room, err
}

func getPlayerByID(playerID int64) (*Player, error) {
	var player Player
	err := db.Get(&player, `
		SELECT rowid as id, room_id, nickname, token, role, is_alive, is_leader,
			last_protected_id, speaking_budget, speaking_used, joined_at
		FROM player WHERE rowid = ?`, playerID)
	if err == sql.ErrNoRows {
		return nil, errNotFound("player %d not found", playerID)
	}
	return &player, err
}

func getPlayersByRoomID(roomID int64) ([]Player, error) {
	var players []Player
	err := db.Select(&players, `
		SELECT rowid as id, room_id, nickname, token, role, is_alive, is_leader,
			last_protected_id, speaking_budget, speaking_used, joined_at
		FROM player WHERE room_id = ? ORDER BY joined_at, rowid`, roomID)
	return players, err
}

func getAlivePlayers(roomID int64) ([]Player, error) {
	var players []Player
	err := db.Select(&players, `
		SELECT rowid as id, room_id, nickname, token, role, is_alive, is_leader,
			last_protected_id, speaking_budget, speaking_used, joined_at
		FROM player WHERE room_id = ? AND is_alive = 1 ORDER BY joined_at, rowid`, roomID)
	return players, err
}

// getGameState returns the room's game state, or a StateError if the game
// has not started.
func getGameState(roomID int64) (*GameState, error) {
	var state GameState
	err := db.Get(&state, `
		SELECT rowid as id, room_id, phase, night_number, day_number, timer_end,
			current_speaker_id, wolves_voted, seer_acted, protector_acted
		FROM game_state WHERE room_id = ?`, roomID)
	if err == sql.ErrNoRows {
		return nil, errState("no active game in this room")
	}
	return &state, err
}

// getNightActions returns all actions of one type for a given night, scoped
// to the room.
func getNightActions(roomID int64, nightNumber int, actionType string) ([]Action, error) {
	var actions []Action
	err := db.Select(&actions, `
		SELECT a.rowid as id, a.player_id, a.action_type, a.target_id, a.night_number, a.result_data
		FROM action a JOIN player p ON a.player_id = p.rowid
		WHERE p.room_id = ? AND a.night_number = ? AND a.action_type = ?`,
		roomID, nightNumber, actionType)
	return actions, err
}

// upsertAction records or overwrites an action keyed by
// (player, action_type, night_number).
func upsertAction(playerID int64, actionType string, targetID int64, nightNumber int, resultData *string) error {
	_, err := db.Exec(`
		INSERT INTO action (player_id, action_type, target_id, night_number, result_data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(player_id, action_type, night_number)
		DO UPDATE SET target_id = ?, result_data = ?`,
		playerID, actionType, targetID, nightNumber, resultData, targetID, resultData)
	return err
}

// upsertVote records or overwrites a vote keyed by
// (player, vote_type, vote_phase).
func upsertVote(playerID, targetID int64, voteType string, votePhase int) error {
	_, err := db.Exec(`
		INSERT INTO vote (player_id, target_id, vote_type, vote_phase)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(player_id, vote_type, vote_phase)
		DO UPDATE SET target_id = ?`,
		playerID, targetID, voteType, votePhase, targetID)
	return err
}

// getVotes returns all votes of one type for a given phase key, scoped to
// the room.
func getVotes(roomID int64, voteType string, votePhase int) ([]Vote, error) {
	var votes []Vote
	err := db.Select(&votes, `
		SELECT v.rowid as id, v.player_id, v.target_id, v.vote_type, v.vote_phase
		FROM vote v JOIN player p ON v.player_id = p.rowid
		WHERE p.room_id = ? AND v.vote_type = ? AND v.vote_phase = ?`,
		roomID, voteType, votePhase)
	return votes, err
}

// markPlayerDead flips is_alive. Alive counts only ever go down.
func markPlayerDead(playerID int64) error {
	_, err := db.Exec("UPDATE player SET is_alive = 0 WHERE rowid = ?", playerID)
	return err
}

// logGameEvent appends a row to the room's audit trail.
func logGameEvent(room *Room, phase, message string, metadata map[string]any) {
	var meta *string
	if metadata != nil {
		if data, err := json.Marshal(metadata); err == nil {
			s := string(data)
			meta = &s
		}
	}
	_, err := db.Exec(`
		INSERT INTO game_log (room_id, phase, message, metadata)
		VALUES (?, ?, ?, ?)`, room.ID, phase, message, meta)
	if err != nil {
		logError("logGameEvent", err)
	}
}

// getGameLogs skips empty-message rows; the narrator holds a placeholder
// row with an empty message while a narration is still streaming in.
func getGameLogs(roomID int64) ([]GameLog, error) {
	var logs []GameLog
	err := db.Select(&logs, `
		SELECT rowid as id, room_id, phase, message, metadata, created_at
		FROM game_log WHERE room_id = ? AND message != '' ORDER BY rowid`, roomID)
	return logs, err
}

func initDB() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS room (
		code TEXT NOT NULL UNIQUE,
		admin_token TEXT NOT NULL UNIQUE,
		capacity INTEGER NOT NULL DEFAULT 8,
		status TEXT NOT NULL DEFAULT 'waiting',
		num_wolves INTEGER NOT NULL DEFAULT 2,
		num_seers INTEGER NOT NULL DEFAULT 1,
		num_protectors INTEGER NOT NULL DEFAULT 1,
		num_hunters INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS player (
		room_id INTEGER NOT NULL,
		nickname TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT '',
		is_alive INTEGER NOT NULL DEFAULT 1,
		is_leader INTEGER NOT NULL DEFAULT 0,
		last_protected_id INTEGER,
		speaking_budget INTEGER NOT NULL DEFAULT 120,
		speaking_used INTEGER NOT NULL DEFAULT 0,
		joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES room(rowid),
		UNIQUE(room_id, nickname)
	);
	CREATE TABLE IF NOT EXISTS game_state (
		room_id INTEGER NOT NULL UNIQUE,
		phase TEXT NOT NULL DEFAULT 'setup',
		night_number INTEGER NOT NULL DEFAULT 0,
		day_number INTEGER NOT NULL DEFAULT 0,
		timer_end DATETIME,
		current_speaker_id INTEGER,
		wolves_voted INTEGER NOT NULL DEFAULT 0,
		seer_acted INTEGER NOT NULL DEFAULT 0,
		protector_acted INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (room_id) REFERENCES room(rowid)
	);
	CREATE TABLE IF NOT EXISTS action (
		player_id INTEGER NOT NULL,
		action_type TEXT NOT NULL,
		target_id INTEGER,
		night_number INTEGER NOT NULL,
		result_data TEXT,
		FOREIGN KEY (player_id) REFERENCES player(rowid),
		FOREIGN KEY (target_id) REFERENCES player(rowid),
		UNIQUE(player_id, action_type, night_number)
	);
	CREATE TABLE IF NOT EXISTS vote (
		player_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		vote_type TEXT NOT NULL,
		vote_phase INTEGER NOT NULL,
		FOREIGN KEY (player_id) REFERENCES player(rowid),
		FOREIGN KEY (target_id) REFERENCES player(rowid),
		UNIQUE(player_id, vote_type, vote_phase)
	);
	CREATE TABLE IF NOT EXISTS game_log (
		room_id INTEGER NOT NULL,
		phase TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES room(rowid)
	);
	CREATE INDEX IF NOT EXISTS idx_player_room ON player(room_id, is_alive);
	CREATE INDEX IF NOT EXISTS idx_action_night ON action(action_type, night_number);
	CREATE INDEX IF NOT EXISTS idx_game_log_room ON game_log(room_id);
	`
	_, err := db.Exec(schema)
	if err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}
