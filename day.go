package main

import (
	"log"
)

// submitVote records an elimination or leader vote, depending on the current
// phase. One vote per (player, vote_type, day); resubmission changes the
// target.
func submitVote(player *Player, targetID int64) error {
	room, err := getRoomByID(player.RoomID)
	if err != nil {
		return err
	}

	unlock := lockRoom(room.Code)
	defer unlock()

	player, err = getPlayerByID(player.ID)
	if err != nil {
		return err
	}
	if !player.IsAlive {
		return errNotPermitted("dead players cannot vote")
	}

	state, err := getGameState(room.ID)
	if err != nil {
		return err
	}
	if state.Phase != PhaseVoting && state.Phase != PhaseLeaderElection {
		return errState("voting is not open")
	}

	target, err := getPlayerByID(targetID)
	if err != nil {
		return err
	}
	if target.RoomID != player.RoomID {
		return errNotFound("target is not in this room")
	}
	if !target.IsAlive {
		return errValidation("cannot vote for a dead player")
	}

	voteType := VoteElimination
	if state.Phase == PhaseLeaderElection {
		voteType = VoteLeader
	}

	if err := upsertVote(player.ID, target.ID, voteType, state.DayNumber); err != nil {
		logError("submitVote: upsert", err)
		return err
	}

	log.Printf("Room %s: '%s' voted (%s) for '%s' on day %d",
		room.Code, player.Nickname, voteType, target.Nickname, state.DayNumber)
	DebugLog("submitVote", "'%s' %s vote -> '%s'", player.Nickname, voteType, target.Nickname)
	return nil
}

// resolveVote tallies the day's elimination votes. A leader's vote weighs
// double. A tie on the highest weight is a deliberate terminal outcome of
// the tally: it is logged and the phase stays at voting until the admin
// triggers a re-vote or a leader tie-break.
func resolveVote(room *Room, state *GameState) error {
	votes, err := getVotes(room.ID, VoteElimination, state.DayNumber)
	if err != nil {
		logError("resolveVote: get votes", err)
		return err
	}

	counts := make(map[int64]int)
	for _, v := range votes {
		voter, err := getPlayerByID(v.PlayerID)
		if err != nil {
			return err
		}
		weight := 1
		if voter.IsLeader {
			weight = 2
		}
		counts[v.TargetID] += weight
	}

	eliminatedID, tie := highestCount(counts)
	if eliminatedID == 0 {
		logGameEvent(room, PhaseVoting, "No votes cast - no elimination", nil)
		log.Printf("Room %s: no votes on day %d, no elimination", room.Code, state.DayNumber)
		return advanceToNight(room, state)
	}
	if tie {
		logGameEvent(room, PhaseVoting, "Tie vote - leader must decide or revote", nil)
		log.Printf("Room %s: elimination vote tied on day %d, staying in voting", room.Code, state.DayNumber)
		return nil
	}

	eliminated, err := getPlayerByID(eliminatedID)
	if err != nil {
		return err
	}
	if err := markPlayerDead(eliminated.ID); err != nil {
		logError("resolveVote: eliminate player", err)
		return err
	}

	logGameEvent(room, PhaseVoting, eliminated.Nickname+" was eliminated by vote", nil)
	log.Printf("Room %s: '%s' eliminated by vote on day %d", room.Code, eliminated.Nickname, state.DayNumber)
	DebugLog("resolveVote", "'%s' eliminated", eliminated.Nickname)

	var hunterRevengeID *int64
	if eliminated.Role == RoleHunter {
		logGameEvent(room, PhaseVoting, eliminated.Nickname+" was a hunter! They can take revenge.",
			map[string]any{"hunter_can_revenge": eliminated.ID})
		hunterRevengeID = &eliminated.ID
	}

	if ended, err := checkWinConditions(room); err != nil || ended {
		return err
	}

	publishEvent(room.Code, "player_eliminated", map[string]any{
		"player": map[string]any{
			"id":       eliminated.ID,
			"nickname": eliminated.Nickname,
			"role":     eliminated.Role,
		},
		"hunter_revenge": hunterRevengeID,
	})
	maybeNarrate(room, eliminated.Nickname+" was dragged to the gallows by the village.")

	return advanceToNight(room, state)
}

// hunterRevenge is the dead hunter's parting shot. It is never triggered
// automatically by a death; the hunter's client has to invoke it.
func hunterRevenge(player *Player, targetID int64) error {
	room, err := getRoomByID(player.RoomID)
	if err != nil {
		return err
	}

	unlock := lockRoom(room.Code)
	defer unlock()

	player, err = getPlayerByID(player.ID)
	if err != nil {
		return err
	}
	if player.Role != RoleHunter {
		return errNotPermitted("only hunters can use this action")
	}
	if player.IsAlive {
		return errNotPermitted("hunter must be dead to use revenge")
	}

	state, err := getGameState(room.ID)
	if err != nil {
		return err
	}
	if state.Phase == PhaseFinished {
		return errState("the game is already over")
	}

	target, err := getPlayerByID(targetID)
	if err != nil {
		return err
	}
	if target.RoomID != player.RoomID {
		return errNotFound("target is not in this room")
	}
	if !target.IsAlive {
		return errValidation("cannot target a dead player")
	}

	if err := markPlayerDead(target.ID); err != nil {
		logError("hunterRevenge: kill target", err)
		return err
	}

	logGameEvent(room, "hunter_revenge", player.Nickname+" took "+target.Nickname+" with them", nil)
	log.Printf("Room %s: hunter '%s' took revenge on '%s'", room.Code, player.Nickname, target.Nickname)
	DebugLog("hunterRevenge", "hunter '%s' shot '%s'", player.Nickname, target.Nickname)

	publishEvent(room.Code, "hunter_revenge", map[string]any{
		"hunter": player.Nickname,
		"victim": map[string]any{
			"id":       target.ID,
			"nickname": target.Nickname,
			"role":     target.Role,
		},
	})
	maybeNarrate(room, player.Nickname+" fired one last shot and took "+target.Nickname+" with them.")

	_, err = checkWinConditions(room)
	return err
}
