package main

import (
	"testing"
)

// votingTestRoom walks a started 4 player game (wolf + three citizens) into
// the voting phase of day 1.
func votingTestRoom(t *testing.T) (*Room, []Player) {
	t.Helper()
	room := makeRoom(t, RoomConfig{Capacity: 4, NumWolves: 1})
	players := fillRoom(t, room, 4)
	players = startScriptedGame(t, room, players, []string{
		RoleWolf, RoleCitizen, RoleCitizen, RoleCitizen,
	})
	mustAdvance(t, room) // night 1 -> day 1
	mustAdvance(t, room) // day 1 -> voting
	return room, players
}

func TestVoteUpsertOverwrites(t *testing.T) {
	setupTest(t)
	room, players := votingTestRoom(t)

	if err := submitVote(&players[0], players[1].ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := submitVote(&players[0], players[2].ID); err != nil {
		t.Fatalf("revote: %v", err)
	}

	votes, err := getVotes(room.ID, VoteElimination, 1)
	if err != nil {
		t.Fatalf("getVotes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("votes = %d after a revote, want 1", len(votes))
	}
	if votes[0].TargetID != players[2].ID {
		t.Error("revote should overwrite the target")
	}
}

func TestVotePermissions(t *testing.T) {
	setupTest(t)
	_, players := votingTestRoom(t)

	// Dead players cannot vote.
	if err := markPlayerDead(players[3].ID); err != nil {
		t.Fatalf("markPlayerDead: %v", err)
	}
	err := submitVote(&players[3], players[0].ID)
	wantKind(t, err, KindNotPermitted)

	// Dead players cannot be voted for.
	err = submitVote(&players[0], players[3].ID)
	wantKind(t, err, KindValidation)

	// Targets must share the room.
	other := makeRoom(t, RoomConfig{Capacity: 2})
	stranger, err2 := joinRoom(other, "Stranger")
	if err2 != nil {
		t.Fatalf("joinRoom: %v", err2)
	}
	err = submitVote(&players[0], stranger.ID)
	wantKind(t, err, KindNotFound)
}

func TestVoteOutsideVotingPhase(t *testing.T) {
	setupTest(t)

	room := makeRoom(t, RoomConfig{Capacity: 3, NumWolves: 1})
	players := fillRoom(t, room, 3)
	if err := startGame(room); err != nil {
		t.Fatalf("startGame: %v", err)
	}

	// Night 1: no voting yet.
	err := submitVote(&players[0], players[1].ID)
	wantKind(t, err, KindState)

	mustAdvance(t, room)
	// Day discussion: still no voting.
	err = submitVote(&players[0], players[1].ID)
	wantKind(t, err, KindState)
}

func TestLeaderVoteWeighsDouble(t *testing.T) {
	setupTest(t)
	room, players := votingTestRoom(t)

	if _, err := db.Exec("UPDATE player SET is_leader = 1 WHERE rowid = ?", players[1].ID); err != nil {
		t.Fatalf("set leader: %v", err)
	}

	// The leader alone backs Player3; Player3 backs Player1. 2 beats 1.
	if err := submitVote(&players[1], players[2].ID); err != nil {
		t.Fatalf("leader vote: %v", err)
	}
	if err := submitVote(&players[2], players[0].ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	mustAdvance(t, room)

	if p := reloadPlayer(t, players[2].ID); p.IsAlive {
		t.Error("leader-backed target should be eliminated on weight 2 vs 1")
	}
	if p := reloadPlayer(t, players[0].ID); !p.IsAlive {
		t.Error("Player1 should survive with a single weight-1 vote against")
	}
}

func TestTieKeepsVotingOpen(t *testing.T) {
	setupTest(t)
	room, players := votingTestRoom(t)

	if err := submitVote(&players[0], players[1].ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := submitVote(&players[1], players[0].ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	mustAdvance(t, room)

	if state := currentState(t, room); state.Phase != PhaseVoting {
		t.Errorf("tied vote moved phase to %s, should stay at %s", state.Phase, PhaseVoting)
	}
	alive, err := getAlivePlayers(room.ID)
	if err != nil {
		t.Fatalf("getAlivePlayers: %v", err)
	}
	if len(alive) != 4 {
		t.Errorf("alive = %d after a tie, want 4", len(alive))
	}
	if !containsMessage(logMessages(t, room), "Tie vote") {
		t.Error("tie should be recorded in the game log")
	}

	// A changed vote breaks the tie on the next resolve.
	if err := submitVote(&players[2], players[1].ID); err != nil {
		t.Fatalf("tie-break vote: %v", err)
	}
	mustAdvance(t, room)
	if p := reloadPlayer(t, players[1].ID); p.IsAlive {
		t.Error("target should be eliminated after the tie-break")
	}
}

func TestNoVotesAdvancesNight(t *testing.T) {
	setupTest(t)
	room, _ := votingTestRoom(t)

	mustAdvance(t, room)

	state := currentState(t, room)
	if state.Phase != PhaseNight || state.NightNumber != 2 {
		t.Errorf("voteless day should open night 2, got %s/%d", state.Phase, state.NightNumber)
	}
	if !containsMessage(logMessages(t, room), "No votes cast") {
		t.Error("the voteless day should be recorded in the game log")
	}
}

func TestEliminationPublishesEvent(t *testing.T) {
	sink := setupTest(t)
	room, players := votingTestRoom(t)

	for _, i := range []int{1, 2, 3} {
		if err := submitVote(&players[i], players[0].ID); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	mustAdvance(t, room)

	got := sink.byType("player_eliminated")
	if len(got) != 1 {
		t.Fatalf("player_eliminated events = %d, want 1", len(got))
	}
	payload, ok := got[0].Event.Data["player"].(map[string]any)
	if !ok {
		t.Fatalf("player payload missing: %+v", got[0].Event.Data)
	}
	if payload["nickname"] != players[0].Nickname {
		t.Errorf("eliminated = %v, want %s", payload["nickname"], players[0].Nickname)
	}
}

func TestHunterRevenge(t *testing.T) {
	setupTest(t)

	room := makeRoom(t, RoomConfig{Capacity: 5, NumWolves: 1, NumHunters: 1})
	players := fillRoom(t, room, 5)
	players = startScriptedGame(t, room, players, []string{
		RoleWolf, RoleHunter, RoleCitizen, RoleCitizen, RoleCitizen,
	})
	hunter := &players[1]

	mustAdvance(t, room) // night 1 -> day 1
	mustAdvance(t, room) // day 1 -> voting

	// A living hunter has no revenge shot.
	err := hunterRevenge(hunter, players[0].ID)
	wantKind(t, err, KindNotPermitted)

	// The village hangs the hunter.
	for _, i := range []int{0, 2, 3} {
		if err := submitVote(&players[i], hunter.ID); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	mustAdvance(t, room)
	if p := reloadPlayer(t, hunter.ID); p.IsAlive {
		t.Fatal("hunter should be eliminated")
	}
	if !containsMessage(logMessages(t, room), "revenge") {
		t.Error("the hunter's pending revenge should be recorded in the game log")
	}

	// Non-hunters get no shot either way.
	err = hunterRevenge(&players[2], players[0].ID)
	wantKind(t, err, KindNotPermitted)

	// The dead hunter takes the wolf down; that ends the game.
	if err := hunterRevenge(hunter, players[0].ID); err != nil {
		t.Fatalf("hunterRevenge: %v", err)
	}
	if p := reloadPlayer(t, players[0].ID); p.IsAlive {
		t.Error("revenge target should be dead")
	}
	if state := currentState(t, room); state.Phase != PhaseFinished {
		t.Errorf("phase = %s, want %s after the last wolf died", state.Phase, PhaseFinished)
	}
}

func TestHunterRevengeAfterGameEnds(t *testing.T) {
	sink := setupTest(t)

	room := makeRoom(t, RoomConfig{Capacity: 4, NumWolves: 1, NumHunters: 1})
	players := fillRoom(t, room, 4)
	players = startScriptedGame(t, room, players, []string{
		RoleWolf, RoleHunter, RoleCitizen, RoleCitizen,
	})
	hunter := &players[1]

	// The wolves take the hunter on night 1, then the village hangs the
	// wolf. That finishes the game with a citizens' win.
	if err := markPlayerDead(hunter.ID); err != nil {
		t.Fatalf("markPlayerDead: %v", err)
	}
	mustAdvance(t, room) // night 1 -> day 1
	mustAdvance(t, room) // day 1 -> voting
	for _, i := range []int{2, 3} {
		if err := submitVote(&players[i], players[0].ID); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}
	mustAdvance(t, room)
	if state := currentState(t, room); state.Phase != PhaseFinished {
		t.Fatalf("phase = %s, want %s", state.Phase, PhaseFinished)
	}

	// The dead hunter's shot is gone once the game is over.
	err := hunterRevenge(hunter, players[2].ID)
	wantKind(t, err, KindState)
	if p := reloadPlayer(t, players[2].ID); !p.IsAlive {
		t.Error("no player may die in a finished game")
	}
	if got := sink.byType("game_ended"); len(got) != 1 {
		t.Errorf("game_ended events = %d, want exactly 1", len(got))
	}
}

func TestHunterRevengeTargetMustBeAlive(t *testing.T) {
	setupTest(t)

	room := makeRoom(t, RoomConfig{Capacity: 4, NumWolves: 1, NumHunters: 1})
	players := fillRoom(t, room, 4)
	players = startScriptedGame(t, room, players, []string{
		RoleWolf, RoleHunter, RoleCitizen, RoleCitizen,
	})
	hunter := &players[1]

	if err := markPlayerDead(hunter.ID); err != nil {
		t.Fatalf("markPlayerDead: %v", err)
	}
	if err := markPlayerDead(players[2].ID); err != nil {
		t.Fatalf("markPlayerDead: %v", err)
	}

	err := hunterRevenge(hunter, players[2].ID)
	wantKind(t, err, KindValidation)
}
