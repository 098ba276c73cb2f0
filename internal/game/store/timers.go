package store

import (
	"time"

	"github.com/Wbbdlr/kvitlach/internal/game/round"
)

// persistRound reconciles the turn timer with the round's active turn.
// The timer runs only for a pending non-banker; if the same seat is
// still active the existing expiry is kept, otherwise the window
// restarts.
func (s *Store) persistRound(e *roomEntry) {
	rd := e.round
	if rd == nil {
		s.stopTurnTimer(e)
		return
	}
	active := rd.ActivePlayerID()
	var target *round.Turn
	if active != "" {
		target = rd.Turn(active)
	}
	if target == nil || target.Player.Role == round.RoleBanker || target.State != round.TurnPending {
		s.stopTurnTimer(e)
		rd.TurnTimer = nil
		return
	}

	key := rd.ID + "|" + active
	if e.turnKey == key && e.turnTimer != nil {
		return
	}
	s.stopTurnTimer(e)
	e.turnKey = key
	rd.TurnTimer = &round.TimerInfo{
		PlayerID:  active,
		ExpiresAt: time.Now().Add(s.turnTimeout),
		Duration:  int(s.turnTimeout / time.Second),
	}
	roomID, roundID, playerID := e.room.ID, rd.ID, active
	e.turnTimer = time.AfterFunc(s.turnTimeout, func() {
		s.autoStand(roomID, roundID, playerID, key)
	})
}

func (s *Store) stopTurnTimer(e *roomEntry) {
	if e.turnTimer != nil {
		e.turnTimer.Stop()
		e.turnTimer = nil
	}
	e.turnKey = ""
}

// autoStand fires when a seat sat on its turn for the whole window.
// It re-enters the room critical section and re-checks that the same
// seat is still the one being waited on.
func (s *Store) autoStand(roomID, roundID, playerID, key string) {
	err := s.withRoom(roomID, func(e *roomEntry) error {
		if e.round == nil || e.round.ID != roundID || e.turnKey != key {
			return nil
		}
		t := e.round.Turn(playerID)
		if t == nil || t.State != round.TurnPending {
			return nil
		}
		s.logger.Info("turn timed out", "room", roomID, "player", playerID)
		if err := e.round.Stand(playerID); err != nil {
			return nil
		}
		s.processBankLock(e)
		s.afterRoundMutation(e)
		return nil
	})
	if err != nil && err != ErrRoomNotFound {
		s.logger.Error("auto-stand failed", "room", roomID, "err", err)
	}
}

// touch restarts the room's inactivity window; called after every
// successful mutation.
func (s *Store) touch(e *roomEntry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	roomID := e.room.ID
	e.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		s.expireRoom(roomID)
	})
}

func (s *Store) expireRoom(roomID string) {
	e := s.entry(roomID)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return
	}
	s.logger.Info("room expired", "room", roomID)
	s.deleteRoom(e)
}
