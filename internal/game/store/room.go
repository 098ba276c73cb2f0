package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/Wbbdlr/kvitlach/internal/audit"
	"github.com/Wbbdlr/kvitlach/internal/game/round"
)

// CreateRoomParams carries the room:create payload. BuyIn falls back
// to the default stake; BankerBankroll falls back to BuyIn.
type CreateRoomParams struct {
	FirstName      string
	LastName       string
	RoomName       string
	Password       string
	RoomID         string
	BuyIn          int
	BankerBankroll *int
}

// SessionResult is returned wherever a fresh session token is issued.
type SessionResult struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
	Token    string `json:"token"`
}

// CreateRoom generates the banker seat and the room shell.
func (s *Store) CreateRoom(ctx context.Context, p CreateRoomParams) (*Room, round.Player, SessionResult, error) {
	buyIn := p.BuyIn
	if buyIn == 0 {
		buyIn = DefaultBuyIn
	}
	if buyIn < 0 {
		return nil, round.Player{}, SessionResult{}, ErrInvalidBankroll
	}
	bankerBuyIn := buyIn
	if p.BankerBankroll != nil {
		bankerBuyIn = *p.BankerBankroll
	}
	if bankerBuyIn <= 0 {
		return nil, round.Player{}, SessionResult{}, ErrInvalidBankroll
	}

	banker := round.Player{
		ID:        uuid.NewString(),
		FirstName: sanitizeName(p.FirstName),
		LastName:  sanitizeName(p.LastName),
		Role:      round.RoleBanker,
		Presence:  round.Online,
	}

	room := &Room{
		Name:           sanitizeRoomName(p.RoomName),
		Password:       p.Password,
		DefaultBuyIn:   buyIn,
		BankerBuyIn:    bankerBuyIn,
		Wallets:        map[string]int{banker.ID: bankerBuyIn},
		Players:        []round.Player{banker},
		BalanceLedger:  []round.BalanceEntry{},
		RenameRequests: make(map[string]RenameRequest),
		BuyInRequests:  make(map[string]BuyInRequest),
	}

	s.mu.Lock()
	if p.RoomID != "" {
		id := normalizeRoomID(p.RoomID)
		if !roomIDPattern.MatchString(id) {
			s.mu.Unlock()
			return nil, round.Player{}, SessionResult{}, ErrRoomIDInvalid
		}
		if _, taken := s.rooms[id]; taken {
			s.mu.Unlock()
			return nil, round.Player{}, SessionResult{}, ErrRoomIDTaken
		}
		room.ID = id
	} else {
		for {
			id := newRoomCode()
			if _, taken := s.rooms[id]; !taken {
				room.ID = id
				break
			}
		}
	}
	e := &roomEntry{room: room}
	s.rooms[room.ID] = e
	s.mu.Unlock()

	token, err := s.sessions.Issue(ctx, room.ID, banker.ID)
	if err != nil {
		s.mu.Lock()
		delete(s.rooms, room.ID)
		s.mu.Unlock()
		return nil, round.Player{}, SessionResult{}, err
	}

	e.mu.Lock()
	s.touch(e)
	snap := room.snapshot()
	e.mu.Unlock()

	s.logger.Info("room created", "room", room.ID, "banker", banker.ID)
	s.audit.Action(room.ID, banker.ID, "room:create", "")
	return snap, banker, SessionResult{RoomID: room.ID, PlayerID: banker.ID, Token: token}, nil
}

// JoinParams carries the room:join payload.
type JoinParams struct {
	FirstName string
	LastName  string
	Password  string
}

// JoinRoom seats a new player. Mid-round joiners wait for the next
// deal.
func (s *Store) JoinRoom(ctx context.Context, roomID string, p JoinParams) (*Room, round.Player, SessionResult, error) {
	var (
		snap   *Room
		player round.Player
	)
	err := s.withRoom(roomID, func(e *roomEntry) error {
		if e.room.Password != "" && e.room.Password != p.Password {
			return ErrInvalidPassword
		}
		player = round.Player{
			ID:        uuid.NewString(),
			FirstName: sanitizeName(p.FirstName),
			LastName:  sanitizeName(p.LastName),
			Role:      round.RolePlayer,
			Presence:  round.Online,
		}
		e.room.Players = append(e.room.Players, player)
		e.room.Wallets[player.ID] = e.room.DefaultBuyIn
		if e.round != nil {
			e.room.WaitingPlayerIDs = append(e.room.WaitingPlayerIDs, player.ID)
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	if err != nil {
		return nil, round.Player{}, SessionResult{}, err
	}
	token, err := s.sessions.Issue(ctx, snap.ID, player.ID)
	if err != nil {
		return nil, round.Player{}, SessionResult{}, err
	}
	s.audit.Action(snap.ID, player.ID, "room:join", "")
	return snap, player, SessionResult{RoomID: snap.ID, PlayerID: player.ID, Token: token}, nil
}

// ResumePlayer validates a presented token, rotates it and returns the
// current state. The old token is dead afterwards.
func (s *Store) ResumePlayer(ctx context.Context, roomID, playerID, token string) (*Room, *round.Round, round.Player, SessionResult, error) {
	var (
		snap   *Room
		rdSnap *round.Round
		player round.Player
	)
	err := s.withRoom(roomID, func(e *roomEntry) error {
		p := e.room.Player(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if err := s.sessions.Validate(ctx, e.room.ID, playerID, token); err != nil {
			return err
		}
		p.Presence = round.Online
		if t := findTurn(e.round, playerID); t != nil {
			t.Player.Presence = round.Online
		}
		player = *p
		snap = e.room.snapshot()
		if e.round != nil {
			rdSnap = snapshotRound(e.round)
		}
		s.emitRoom(e)
		return nil
	})
	if err != nil {
		return nil, nil, round.Player{}, SessionResult{}, err
	}
	fresh, err := s.sessions.Issue(ctx, snap.ID, playerID)
	if err != nil {
		return nil, nil, round.Player{}, SessionResult{}, err
	}
	return snap, rdSnap, player, SessionResult{RoomID: snap.ID, PlayerID: playerID, Token: fresh}, nil
}

// SetPresence flips a player's presence from the socket lifecycle.
func (s *Store) SetPresence(ctx context.Context, roomID, playerID string, presence round.Presence) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		p := e.room.Player(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		p.Presence = presence
		if t := findTurn(e.round, playerID); t != nil {
			t.Player.Presence = presence
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}

// SwitchAdmin hands the banker role to another player atomically.
func (s *Store) SwitchAdmin(ctx context.Context, roomID, actorID, targetID string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		if targetID == actorID {
			return ErrInvalidTarget
		}
		target := e.room.Player(targetID)
		if target == nil {
			return ErrPlayerNotFound
		}
		if target.Role == round.RoleBanker {
			return ErrInvalidTarget
		}
		actor.Role = round.RolePlayer
		target.Role = round.RoleBanker
		if t := findTurn(e.round, actorID); t != nil {
			t.Player.Role = round.RolePlayer
		}
		if t := findTurn(e.round, targetID); t != nil {
			t.Player.Role = round.RoleBanker
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		s.emitRound(e)
		return nil
	})
	if err == nil {
		s.audit.Action(normalizeRoomID(roomID), actorID, "room:switch-admin", targetID)
	}
	return snap, err
}

// KickPlayer removes a player and every trace of them: wallet, waiting
// slot, requests, blocks, active turn and any bank lock they hold.
func (s *Store) KickPlayer(ctx context.Context, roomID, actorID, targetID string) (*Room, *round.Round, error) {
	var (
		snap   *Room
		rdSnap *round.Round
	)
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		if targetID == actorID {
			return ErrInvalidTarget
		}
		target := e.room.Player(targetID)
		if target == nil {
			return ErrPlayerNotFound
		}
		if target.Role == round.RoleBanker {
			return ErrInvalidTarget
		}
		s.removePlayer(e, targetID, true)
		snap = e.room.snapshot()
		if e.round != nil {
			rdSnap = snapshotRound(e.round)
		}
		s.emitRoom(e)
		s.emitRound(e)
		s.persistRound(e)
		return nil
	})
	if err == nil {
		s.audit.Action(normalizeRoomID(roomID), actorID, "player:kick", targetID)
	}
	return snap, rdSnap, err
}

// LeaveRoom removes the player but leaves their wallet untouched so a
// later admin adjustment can reconcile it. The banker cannot leave;
// they hand off the role first.
func (s *Store) LeaveRoom(ctx context.Context, roomID, playerID string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		p := e.room.Player(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if p.Role == round.RoleBanker {
			return ErrForbidden
		}
		s.removePlayer(e, playerID, false)
		snap = e.room.snapshot()
		s.emitRoom(e)
		s.emitRound(e)
		s.persistRound(e)
		return nil
	})
	return snap, err
}

// removePlayer strips a player from the room and, when wipeWallet is
// set, from the wallets map as well.
func (s *Store) removePlayer(e *roomEntry, playerID string, wipeWallet bool) {
	out := e.room.Players[:0]
	for _, p := range e.room.Players {
		if p.ID != playerID {
			out = append(out, p)
		}
	}
	e.room.Players = out
	if wipeWallet {
		delete(e.room.Wallets, playerID)
	}
	e.room.WaitingPlayerIDs = remove(e.room.WaitingPlayerIDs, playerID)
	e.room.RenameBlockedIDs = remove(e.room.RenameBlockedIDs, playerID)
	e.room.BuyInBlockedIDs = remove(e.room.BuyInBlockedIDs, playerID)
	delete(e.room.RenameRequests, playerID)
	delete(e.room.BuyInRequests, playerID)
	s.sessions.Revoke(context.Background(), e.room.ID, playerID)

	if e.round != nil {
		turns := e.round.Turns[:0]
		for _, t := range e.round.Turns {
			if t.Player.ID != playerID {
				turns = append(turns, t)
			}
		}
		e.round.Turns = turns
		if e.round.BankLock != nil && e.round.BankLock.PlayerID == playerID {
			e.round.BankLock = nil
		}
		e.round.Advance()
		s.finalizeIfTerminated(e)
	}
}

// GetRoom returns the current snapshot.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	var snap *Room
	err := s.viewRoom(roomID, func(e *roomEntry) error {
		snap = e.room.snapshot()
		return nil
	})
	return snap, err
}

// Connections proxies the audit sink's latest-per-player summary;
// banker only.
func (s *Store) Connections(ctx context.Context, roomID, actorID string) ([]audit.Connection, error) {
	var id string
	err := s.viewRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		id = e.room.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.audit.LatestConnections(ctx, id)
}

func findTurn(rd *round.Round, playerID string) *round.Turn {
	if rd == nil {
		return nil
	}
	return rd.Turn(playerID)
}

// deleteRoom tears a room down: index entries, timers, sessions.
func (s *Store) deleteRoom(e *roomEntry) {
	e.deleted = true
	if e.turnTimer != nil {
		e.turnTimer.Stop()
		e.turnTimer = nil
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	for _, p := range e.room.Players {
		s.sessions.Revoke(context.Background(), e.room.ID, p.ID)
	}
	s.mu.Lock()
	delete(s.rooms, e.room.ID)
	if e.round != nil {
		delete(s.roundIndex, e.round.ID)
	}
	s.mu.Unlock()
	if s.OnRoomDeleted != nil {
		s.OnRoomDeleted(e.room.ID)
	}
	s.logger.Info("room deleted", "room", e.room.ID)
}
