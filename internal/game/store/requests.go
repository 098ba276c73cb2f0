package store

import (
	"context"

	"github.com/Wbbdlr/kvitlach/internal/game/round"
)

// RequestRename files (or replaces) a player's pending name change.
func (s *Store) RequestRename(ctx context.Context, roomID, playerID, firstName, lastName string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		p := e.room.Player(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if p.Role == round.RoleBanker {
			return ErrForbidden
		}
		if contains(e.room.RenameBlockedIDs, playerID) {
			return ErrRenameBlocked
		}
		e.room.RenameRequests[playerID] = RenameRequest{
			FirstName: sanitizeName(firstName),
			LastName:  sanitizeName(lastName),
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}

// CancelRename withdraws the caller's pending request.
func (s *Store) CancelRename(ctx context.Context, roomID, playerID string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		if _, ok := e.room.RenameRequests[playerID]; !ok {
			return ErrRequestNotFound
		}
		delete(e.room.RenameRequests, playerID)
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}

// ResolveRename approves or rejects a pending rename. Approval writes
// the sanitized names onto the player and their active turn.
func (s *Store) ResolveRename(ctx context.Context, roomID, actorID, targetID string, approve bool) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		req, ok := e.room.RenameRequests[targetID]
		if !ok {
			return ErrRequestNotFound
		}
		delete(e.room.RenameRequests, targetID)
		if approve {
			target := e.room.Player(targetID)
			if target == nil {
				return ErrPlayerNotFound
			}
			target.FirstName = req.FirstName
			target.LastName = req.LastName
			if t := findTurn(e.round, targetID); t != nil {
				t.Player.FirstName = req.FirstName
				t.Player.LastName = req.LastName
			}
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		s.emitRound(e)
		return nil
	})
	if err == nil && approve {
		s.audit.Action(normalizeRoomID(roomID), actorID, "player:rename-approve", targetID)
	}
	return snap, err
}

// SetRenameBlock toggles the per-player rename block; blocking also
// clears any pending request.
func (s *Store) SetRenameBlock(ctx context.Context, roomID, actorID, targetID string, block bool) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		if e.room.Player(targetID) == nil {
			return ErrPlayerNotFound
		}
		e.room.RenameBlockedIDs = remove(e.room.RenameBlockedIDs, targetID)
		if block {
			e.room.RenameBlockedIDs = append(e.room.RenameBlockedIDs, targetID)
			delete(e.room.RenameRequests, targetID)
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}

// RequestBuyIn files (or replaces) a wallet credit request.
func (s *Store) RequestBuyIn(ctx context.Context, roomID, playerID string, amount int, note string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		p := e.room.Player(playerID)
		if p == nil {
			return ErrPlayerNotFound
		}
		if p.Role == round.RoleBanker {
			return ErrForbidden
		}
		if contains(e.room.BuyInBlockedIDs, playerID) {
			return ErrBuyInBlocked
		}
		if amount <= 0 {
			return round.ErrInvalidBet
		}
		e.room.BuyInRequests[playerID] = BuyInRequest{Amount: amount, Note: sanitizeNote(note)}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}

// CancelBuyIn withdraws the caller's pending request.
func (s *Store) CancelBuyIn(ctx context.Context, roomID, playerID string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		if _, ok := e.room.BuyInRequests[playerID]; !ok {
			return ErrRequestNotFound
		}
		delete(e.room.BuyInRequests, playerID)
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}

// ResolveBuyIn approves or rejects a pending buy-in. Approval credits
// the wallet.
func (s *Store) ResolveBuyIn(ctx context.Context, roomID, actorID, targetID string, approve bool) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		req, ok := e.room.BuyInRequests[targetID]
		if !ok {
			return ErrRequestNotFound
		}
		delete(e.room.BuyInRequests, targetID)
		if approve {
			if e.room.Player(targetID) == nil {
				return ErrPlayerNotFound
			}
			e.room.Wallets[targetID] += req.Amount
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	if err == nil && approve {
		s.audit.Action(normalizeRoomID(roomID), actorID, "player:buyin-approve", targetID)
	}
	return snap, err
}

// SetBuyInBlock toggles the per-player buy-in block; blocking also
// clears any pending request.
func (s *Store) SetBuyInBlock(ctx context.Context, roomID, actorID, targetID string, block bool) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		if e.room.Player(targetID) == nil {
			return ErrPlayerNotFound
		}
		e.room.BuyInBlockedIDs = remove(e.room.BuyInBlockedIDs, targetID)
		if block {
			e.room.BuyInBlockedIDs = append(e.room.BuyInBlockedIDs, targetID)
			delete(e.room.BuyInRequests, targetID)
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	return snap, err
}
