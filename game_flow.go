package main

import (
	"crypto/rand"
	"errors"
	"log"
	"math/big"
	"time"
)

// Phase timers, surfaced to clients as informational deadlines. Nothing in
// the engine fires when they expire; the admin advances phases explicitly.
const (
	dayTimer    = 5 * time.Minute
	votingTimer = 2 * time.Minute
	nightTimer  = 3 * time.Minute
)

// startGame assigns roles and opens night 1. Refuses to run twice: once a
// game state exists for the room the assignment is final.
func startGame(room *Room) error {
	unlock := lockRoom(room.Code)
	defer unlock()

	room, err := getRoomByCode(room.Code)
	if err != nil {
		return err
	}
	if room.Status != RoomWaiting {
		return errState("game already started")
	}
	if _, err := getGameState(room.ID); err == nil {
		return errState("game already started")
	}

	players, err := getPlayersByRoomID(room.ID)
	if err != nil {
		return err
	}
	if len(players) < room.Capacity {
		return errValidation("need %d players to start, have %d", room.Capacity, len(players))
	}

	specials := room.NumWolves + room.NumSeers + room.NumProtectors + room.NumHunters
	if specials > len(players) {
		return errValidation("too many special roles configured")
	}

	// Build the role pool: wolves, seers, protectors, hunters, rest citizens.
	pool := make([]string, 0, len(players))
	for i := 0; i < room.NumWolves; i++ {
		pool = append(pool, RoleWolf)
	}
	for i := 0; i < room.NumSeers; i++ {
		pool = append(pool, RoleSeer)
	}
	for i := 0; i < room.NumProtectors; i++ {
		pool = append(pool, RoleProtector)
	}
	for i := 0; i < room.NumHunters; i++ {
		pool = append(pool, RoleHunter)
	}
	for len(pool) < len(players) {
		pool = append(pool, RoleCitizen)
	}

	shuffleRoles(pool)
	log.Printf("Room %s: role pool shuffled (%d roles), assigning...", room.Code, len(pool))

	for i, p := range players {
		if _, err := db.Exec("UPDATE player SET role = ? WHERE rowid = ?", pool[i], p.ID); err != nil {
			logError("startGame: assign role", err)
			return err
		}
	}

	if _, err := db.Exec(`
		INSERT INTO game_state (room_id, phase, night_number, day_number)
		VALUES (?, ?, 1, 0)`, room.ID, PhaseNight); err != nil {
		logError("startGame: create game state", err)
		return err
	}
	if _, err := db.Exec("UPDATE room SET status = ? WHERE rowid = ?", RoomPlaying, room.ID); err != nil {
		logError("startGame: update room status", err)
		return err
	}

	logGameEvent(room, PhaseSetup, "Game started - Roles assigned", nil)
	log.Printf("Room %s: game started, night 1", room.Code)
	DebugLog("startGame", "Room '%s' started with %d players", room.Code, len(players))

	publishEvent(room.Code, "phase_change", map[string]any{
		"phase":        PhaseNight,
		"night_number": 1,
	})
	return nil
}

// shuffleRoles shuffles the role pool using crypto/rand.
func shuffleRoles(roles []string) {
	for i := len(roles) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// Fallback: just swap with previous element
			roles[i], roles[i-1] = roles[i-1], roles[i]
			continue
		}
		j := int(jBig.Int64())
		roles[i], roles[j] = roles[j], roles[i]
	}
}

// advancePhase drives the state machine one step. Transitions happen only on
// this explicit call; completion flags and timers never trigger one.
func advancePhase(room *Room) error {
	unlock := lockRoom(room.Code)
	defer unlock()

	state, err := getGameState(room.ID)
	if err != nil {
		return err
	}

	switch state.Phase {
	case PhaseNight:
		return advanceToDay(room, state)
	case PhaseDay:
		return advanceToVoting(room, state)
	case PhaseVoting:
		return resolveVote(room, state)
	case PhaseLeaderElection:
		return resolveLeaderElection(room, state)
	default:
		return errState("cannot advance from phase %s", state.Phase)
	}
}

// advanceToDay resolves the night and moves to day, unless the deaths ended
// the game.
func advanceToDay(room *Room, state *GameState) error {
	deaths, err := resolveNight(room, state)
	if err != nil {
		return err
	}

	if ended, err := checkWinConditions(room); err != nil || ended {
		return err
	}

	timerEnd := time.Now().Add(dayTimer)
	_, err = db.Exec(`
		UPDATE game_state
		SET phase = ?, day_number = day_number + 1, timer_end = ?,
			wolves_voted = 0, seer_acted = 0, protector_acted = 0
		WHERE room_id = ?`, PhaseDay, timerEnd, room.ID)
	if err != nil {
		logError("advanceToDay: update game state", err)
		return err
	}

	log.Printf("Room %s: night %d ended, day %d begins (%d deaths)",
		room.Code, state.NightNumber, state.DayNumber+1, len(deaths))

	deathList := make([]map[string]any, 0, len(deaths))
	for _, p := range deaths {
		deathList = append(deathList, map[string]any{
			"id": p.ID, "nickname": p.Nickname, "role": p.Role,
		})
	}
	publishEvent(room.Code, "phase_change", map[string]any{
		"phase":      PhaseDay,
		"day_number": state.DayNumber + 1,
		"deaths":     deathList,
	})
	return nil
}

// advanceToVoting moves day to voting.
func advanceToVoting(room *Room, state *GameState) error {
	timerEnd := time.Now().Add(votingTimer)
	_, err := db.Exec(`
		UPDATE game_state SET phase = ?, timer_end = ? WHERE room_id = ?`,
		PhaseVoting, timerEnd, room.ID)
	if err != nil {
		logError("advanceToVoting: update game state", err)
		return err
	}

	log.Printf("Room %s: day %d discussion ended, voting begins", room.Code, state.DayNumber)
	publishEvent(room.Code, "phase_change", map[string]any{
		"phase":      PhaseVoting,
		"day_number": state.DayNumber,
	})
	return nil
}

// advanceToNight opens the next night.
func advanceToNight(room *Room, state *GameState) error {
	timerEnd := time.Now().Add(nightTimer)
	_, err := db.Exec(`
		UPDATE game_state SET phase = ?, night_number = night_number + 1, timer_end = ?
		WHERE room_id = ?`, PhaseNight, timerEnd, room.ID)
	if err != nil {
		logError("advanceToNight: update game state", err)
		return err
	}

	log.Printf("Room %s: night %d begins", room.Code, state.NightNumber+1)
	publishEvent(room.Code, "phase_change", map[string]any{
		"phase":        PhaseNight,
		"night_number": state.NightNumber + 1,
	})
	return nil
}

// evaluateWin is the pure win condition over alive role counts.
// Returns empty winner when the game continues.
func evaluateWin(wolves, nonWolves int) (winner, reason string) {
	if wolves == 0 {
		return "citizens", "All wolves eliminated"
	}
	if wolves >= nonWolves {
		return "wolves", "Wolves equal or outnumber citizens"
	}
	return "", ""
}

// checkWinConditions evaluates the win condition against the database and
// ends the game if someone won. Reports whether the game ended.
func checkWinConditions(room *Room) (bool, error) {
	var wolves, nonWolves int
	err := db.Get(&wolves, `
		SELECT COUNT(*) FROM player WHERE room_id = ? AND is_alive = 1 AND role = ?`,
		room.ID, RoleWolf)
	if err != nil {
		logError("checkWinConditions: count wolves", err)
		return false, err
	}
	err = db.Get(&nonWolves, `
		SELECT COUNT(*) FROM player WHERE room_id = ? AND is_alive = 1 AND role != ?`,
		room.ID, RoleWolf)
	if err != nil {
		logError("checkWinConditions: count non-wolves", err)
		return false, err
	}

	log.Printf("Room %s: win check, %d wolves / %d citizens alive", room.Code, wolves, nonWolves)

	winner, reason := evaluateWin(wolves, nonWolves)
	if winner == "" {
		return false, nil
	}
	return true, endGame(room, winner, reason)
}

// endGame moves the room to its terminal state and announces the winner.
func endGame(room *Room, winner, reason string) error {
	_, err := db.Exec(`
		UPDATE game_state SET phase = ?, timer_end = NULL WHERE room_id = ?`,
		PhaseFinished, room.ID)
	if err != nil {
		logError("endGame: update game state", err)
		return err
	}
	if _, err := db.Exec("UPDATE room SET status = ? WHERE rowid = ?", RoomFinished, room.ID); err != nil {
		logError("endGame: update room status", err)
		return err
	}

	logGameEvent(room, PhaseFinished, "Game ended - "+winner+" win: "+reason, nil)
	log.Printf("Room %s: game finished, winner: %s (%s)", room.Code, winner, reason)
	DebugLog("endGame", "Room '%s' finished, %s win", room.Code, winner)

	publishEvent(room.Code, "game_ended", map[string]any{
		"winner": winner,
		"reason": reason,
	})
	maybeNarrate(room, "The game is over. The "+winner+" have won: "+reason)
	return nil
}

// startLeaderElection opens a leader election from the day phase.
func startLeaderElection(room *Room) error {
	unlock := lockRoom(room.Code)
	defer unlock()

	state, err := getGameState(room.ID)
	if err != nil {
		return err
	}
	if state.Phase != PhaseDay {
		return errState("leader election can only start during the day")
	}

	timerEnd := time.Now().Add(votingTimer)
	_, err = db.Exec(`
		UPDATE game_state SET phase = ?, timer_end = ? WHERE room_id = ?`,
		PhaseLeaderElection, timerEnd, room.ID)
	if err != nil {
		logError("startLeaderElection: update game state", err)
		return err
	}

	logGameEvent(room, PhaseLeaderElection, "Leader election started", nil)
	publishEvent(room.Code, "phase_change", map[string]any{
		"phase":      PhaseLeaderElection,
		"day_number": state.DayNumber,
	})
	return nil
}

// resolveLeaderElection tallies leader votes by plurality (no leader exists
// yet, so no weighting applies). A tie keeps the election open for an
// explicit re-vote.
func resolveLeaderElection(room *Room, state *GameState) error {
	votes, err := getVotes(room.ID, VoteLeader, state.DayNumber)
	if err != nil {
		logError("resolveLeaderElection: get votes", err)
		return err
	}

	counts := make(map[int64]int)
	for _, v := range votes {
		counts[v.TargetID]++
	}

	winnerID, tie := highestCount(counts)
	if winnerID == 0 {
		logGameEvent(room, PhaseLeaderElection, "No votes cast - no leader elected", nil)
		log.Printf("Room %s: leader election had no votes", room.Code)
		return returnToDay(room, state)
	}
	if tie {
		logGameEvent(room, PhaseLeaderElection, "Tie vote - leader must decide or revote", nil)
		log.Printf("Room %s: leader election tied, staying in election", room.Code)
		return nil
	}

	winner, err := getPlayerByID(winnerID)
	if err != nil {
		return err
	}
	if err := electLeader(room, winner); err != nil {
		return err
	}
	return returnToDay(room, state)
}

// returnToDay closes a leader election without touching the day counter.
func returnToDay(room *Room, state *GameState) error {
	timerEnd := time.Now().Add(dayTimer)
	_, err := db.Exec(`
		UPDATE game_state SET phase = ?, timer_end = ? WHERE room_id = ?`,
		PhaseDay, timerEnd, room.ID)
	if err != nil {
		logError("returnToDay: update game state", err)
		return err
	}
	publishEvent(room.Code, "phase_change", map[string]any{
		"phase":      PhaseDay,
		"day_number": state.DayNumber,
	})
	return nil
}

// electLeader clears any prior leader and crowns the given player. At most
// one player per room holds is_leader at any time.
func electLeader(room *Room, player *Player) error {
	if player.RoomID != room.ID {
		return errNotFound("player is not in this room")
	}

	if _, err := db.Exec("UPDATE player SET is_leader = 0 WHERE room_id = ?", room.ID); err != nil {
		logError("electLeader: clear previous leader", err)
		return err
	}
	if _, err := db.Exec("UPDATE player SET is_leader = 1 WHERE rowid = ?", player.ID); err != nil {
		logError("electLeader: set leader", err)
		return err
	}

	logGameEvent(room, PhaseLeaderElection, player.Nickname+" elected as leader", nil)
	log.Printf("Room %s: %s elected as leader", room.Code, player.Nickname)

	publishEvent(room.Code, "leader_elected", map[string]any{
		"leader": map[string]any{"id": player.ID, "nickname": player.Nickname},
	})
	return nil
}

// highestCount returns the key with the strictly highest count, or tie=true
// when two or more keys share the maximum. Zero key means no entries.
func highestCount(counts map[int64]int) (winner int64, tie bool) {
	var max int
	for id, count := range counts {
		switch {
		case count > max:
			max = count
			winner = id
			tie = false
		case count == max:
			tie = true
		}
	}
	if winner == 0 {
		return 0, false
	}
	return winner, tie
}

// GameStateView is the read-only snapshot served to clients.
type GameStateView struct {
	Room struct {
		Code     string `json:"code"`
		Status   string `json:"status"`
		Capacity int    `json:"capacity"`
	} `json:"room"`
	Players []PlayerView `json:"players"`
	Phase   string       `json:"phase"`

	NightNumber      int        `json:"night_number"`
	DayNumber        int        `json:"day_number"`
	TimerEnd         *time.Time `json:"timer_end"`
	TimeRemaining    *int       `json:"time_remaining"`
	CurrentSpeakerID *int64     `json:"current_speaker_id"`

	WolvesVoted    bool `json:"wolves_voted"`
	SeerActed      bool `json:"seer_acted"`
	ProtectorActed bool `json:"protector_acted"`
}

// PlayerView omits role and token; those are private.
type PlayerView struct {
	ID            int64  `json:"id"`
	Nickname      string `json:"nickname"`
	IsAlive       bool   `json:"is_alive"`
	IsLeader      bool   `json:"is_leader"`
	RemainingTime int    `json:"remaining_time"` // computed, never stored
}

// getStateView builds the public snapshot of a room's game.
func getStateView(room *Room) (*GameStateView, error) {
	players, err := getPlayersByRoomID(room.ID)
	if err != nil {
		return nil, err
	}

	view := &GameStateView{}
	view.Room.Code = room.Code
	view.Room.Status = room.Status
	view.Room.Capacity = room.Capacity
	view.Players = make([]PlayerView, 0, len(players))
	for _, p := range players {
		view.Players = append(view.Players, PlayerView{
			ID:            p.ID,
			Nickname:      p.Nickname,
			IsAlive:       p.IsAlive,
			IsLeader:      p.IsLeader,
			RemainingTime: p.SpeakingBudget - p.SpeakingUsed,
		})
	}

	state, err := getGameState(room.ID)
	if err != nil {
		var ge *GameError
		if errors.As(err, &ge) && ge.Kind == KindState {
			// Game not started yet; the room part of the view still applies.
			view.Phase = PhaseSetup
			return view, nil
		}
		return nil, err
	}

	view.Phase = state.Phase
	view.NightNumber = state.NightNumber
	view.DayNumber = state.DayNumber
	view.TimerEnd = state.TimerEnd
	view.CurrentSpeakerID = state.CurrentSpeakerID
	view.WolvesVoted = state.WolvesVoted
	view.SeerActed = state.SeerActed
	view.ProtectorActed = state.ProtectorActed

	if state.TimerEnd != nil {
		remaining := int(time.Until(*state.TimerEnd).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		view.TimeRemaining = &remaining
	}
	return view, nil
}
