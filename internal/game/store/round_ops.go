package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Wbbdlr/kvitlach/internal/game/deck"
	"github.com/Wbbdlr/kvitlach/internal/game/round"
)

// StartRound deals a fresh round: online players (the banker always
// included), non-banker seats rotated by the room cursor, banker last,
// one card each.
func (s *Store) StartRound(ctx context.Context, roomID string, deckCountOverride int) (*round.Round, error) {
	var rdSnap *round.Round
	err := s.withRoom(roomID, func(e *roomEntry) error {
		room := e.room
		banker := room.Banker()
		if banker == nil {
			return ErrNotEnoughPlayers
		}

		participants := make([]round.Player, 0, len(room.Players))
		for _, p := range room.Players {
			if p.Presence == round.Online && p.Role != round.RoleBanker {
				participants = append(participants, p)
			}
		}
		if len(participants) == 0 {
			for _, p := range room.Players {
				if p.Role != round.RoleBanker {
					participants = append(participants, p)
				}
			}
		}
		if len(participants) == 0 {
			return ErrNotEnoughPlayers
		}

		// Seat rotation: shift the non-banker order by the cursor,
		// then advance the cursor exactly once.
		cursor := room.SeatRotationCursor % len(participants)
		seated := append(append([]round.Player{}, participants[cursor:]...), participants[:cursor]...)
		room.SeatRotationCursor = (room.SeatRotationCursor + 1) % len(participants)
		seated = append(seated, *banker)

		deckCount := deckCountOverride
		if deckCount <= 0 {
			deckCount = deck.SizeFor(len(seated))
		}
		if deckCount > deck.MaxShoes {
			deckCount = deck.MaxShoes
		}

		rd := &round.Round{
			ID:          uuid.NewString(),
			RoomID:      room.ID,
			Deck:        deck.Shoe(deckCount),
			Phase:       round.PhasePlaying,
			DeckCount:   deckCount,
			RoundNumber: room.CompletedRounds + 1,
		}
		for _, p := range seated {
			card, err := rd.Draw()
			if err != nil {
				return err
			}
			rd.Turns = append(rd.Turns, round.Turn{
				Player: p,
				State:  round.TurnPending,
				Cards:  []deck.Card{card},
			})
		}

		// Replace any round still on the table.
		if e.round != nil {
			s.mu.Lock()
			delete(s.roundIndex, e.round.ID)
			s.mu.Unlock()
		}
		e.round = rd
		room.RoundID = rd.ID
		room.WaitingPlayerIDs = nil
		s.mu.Lock()
		s.roundIndex[rd.ID] = room.ID
		s.mu.Unlock()

		s.persistRound(e)
		rdSnap = snapshotRound(rd)
		s.emitRoom(e)
		s.emitRound(e)
		return nil
	})
	if err == nil {
		s.logger.Info("round started", "room", normalizeRoomID(roomID), "round", rdSnap.ID, "seats", len(rdSnap.Turns))
	}
	return rdSnap, err
}

// checkBankGate enforces who may act while a BANK! lock is set.
func checkBankGate(rd *round.Round, playerID string) error {
	lock := rd.BankLock
	if lock == nil {
		return nil
	}
	switch lock.Stage {
	case round.BankStagePlayer:
		if playerID != lock.PlayerID {
			return ErrBankLocked
		}
	case round.BankStageBanker:
		b := rd.Banker()
		if b == nil || playerID != b.Player.ID {
			return ErrBankLocked
		}
	case round.BankStageDecision:
		return ErrBankerDeciding
	}
	return nil
}

// ApplyBet places a cumulative stake, bounded by the player's wallet
// and by the bank window at their seat. Reaching the window, or
// declaring bank, opens the showdown lock.
func (s *Store) ApplyBet(ctx context.Context, roundID, playerID string, amount int, bank bool) (*round.Round, error) {
	var rdSnap *round.Round
	err := s.withRound(roundID, func(e *roomEntry) error {
		rd := e.round
		if err := checkBankGate(rd, playerID); err != nil {
			return err
		}
		if amount <= 0 {
			return round.ErrInvalidBet
		}
		t := rd.Turn(playerID)
		if t == nil {
			return round.ErrTurnNotFound
		}

		if t.Player.Role == round.RoleBanker {
			// The bank window never applies to the banker's own seat,
			// so a banker bet cannot declare bank.
			if bank {
				return ErrInvalidBankAmount
			}
			if err := rd.Bet(playerID, amount); err != nil {
				return err
			}
		} else {
			if t.Bet+amount > e.room.Wallets[playerID] {
				return ErrInsufficientFunds
			}
			available := s.bankWindow(e, playerID)
			if available <= 0 {
				return ErrBankEmpty
			}
			newBet := t.Bet + amount
			if newBet > available {
				return fmt.Errorf("bank_limit:%d", available)
			}
			if bank && newBet != available {
				return ErrInvalidBankAmount
			}
			if err := rd.Bet(playerID, amount); err != nil {
				return err
			}
			if rd.BankLock == nil && (bank || newBet == available) {
				t.BankRequest = true
				rd.BankLock = &round.BankLock{
					PlayerID:     playerID,
					Stage:        round.BankStagePlayer,
					Exposure:     available,
					ThroughIndex: rd.TurnIndex(playerID),
					InitiatedAt:  time.Now(),
				}
				rd.Advance()
			}
		}

		s.processBankLock(e)
		s.afterRoundMutation(e)
		rdSnap = s.roundResult(e)
		return nil
	})
	return rdSnap, err
}

// ApplyHit draws one card for the player.
func (s *Store) ApplyHit(ctx context.Context, roundID, playerID string, eleveroon bool) (*round.Round, error) {
	var rdSnap *round.Round
	err := s.withRound(roundID, func(e *roomEntry) error {
		if err := checkBankGate(e.round, playerID); err != nil {
			return err
		}
		if err := e.round.Hit(playerID, eleveroon); err != nil {
			return err
		}
		s.processBankLock(e)
		s.afterRoundMutation(e)
		rdSnap = s.roundResult(e)
		return nil
	})
	return rdSnap, err
}

// ApplyStand commits the player's hand.
func (s *Store) ApplyStand(ctx context.Context, roundID, playerID string) (*round.Round, error) {
	var rdSnap *round.Round
	err := s.withRound(roundID, func(e *roomEntry) error {
		if err := checkBankGate(e.round, playerID); err != nil {
			return err
		}
		if err := e.round.Stand(playerID); err != nil {
			return err
		}
		s.processBankLock(e)
		s.afterRoundMutation(e)
		rdSnap = s.roundResult(e)
		return nil
	})
	return rdSnap, err
}

// ApplySkip folds a turn. The banker may target another player; a
// seat under a player-stage bank lock can never be skipped.
func (s *Store) ApplySkip(ctx context.Context, roundID, playerID, actorID string) (*round.Round, error) {
	var rdSnap *round.Round
	err := s.withRound(roundID, func(e *roomEntry) error {
		rd := e.round
		if actorID != "" && actorID != playerID {
			actor := e.room.Player(actorID)
			if actor == nil || actor.Role != round.RoleBanker {
				return ErrForbidden
			}
		}
		if rd.BankLock != nil && rd.BankLock.Stage == round.BankStagePlayer {
			return ErrBankLocked
		}
		if err := checkBankGate(rd, playerID); err != nil {
			return err
		}
		if err := rd.Skip(playerID); err != nil {
			return err
		}
		s.processBankLock(e)
		s.afterRoundMutation(e)
		rdSnap = s.roundResult(e)
		return nil
	})
	return rdSnap, err
}

// GetRound returns the active round snapshot. As a read it does not
// reset the inactivity window.
func (s *Store) GetRound(ctx context.Context, roundID string) (*round.Round, error) {
	s.mu.RLock()
	roomID, ok := s.roundIndex[roundID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoundNotFound
	}
	var rdSnap *round.Round
	err := s.viewRoom(roomID, func(e *roomEntry) error {
		if e.round == nil || e.round.ID != roundID {
			return ErrRoundNotFound
		}
		rdSnap = snapshotRound(e.round)
		return nil
	})
	return rdSnap, err
}

// afterRoundMutation finalizes a terminated round, reschedules the
// turn timer and broadcasts the new state.
func (s *Store) afterRoundMutation(e *roomEntry) {
	terminated := s.finalizeIfTerminated(e)
	s.persistRound(e)
	if !terminated {
		s.emitRound(e)
	}
}

// roundResult is what the acting client gets back in its ack: the
// live round, or the terminal snapshot when the action ended it.
func (s *Store) roundResult(e *roomEntry) *round.Round {
	if e.round != nil {
		return snapshotRound(e.round)
	}
	if e.lastEnded != nil {
		return e.lastEnded
	}
	return nil
}

// finalizeIfTerminated folds a terminated round into the room:
// balances applied to wallets, prepended to the ledger as one batch,
// round record dropped.
func (s *Store) finalizeIfTerminated(e *roomEntry) bool {
	rd := e.round
	if rd == nil || rd.Phase != round.PhaseTerminate {
		return false
	}
	entries := round.Balances(rd.Turns)
	for _, entry := range entries {
		e.room.Wallets[entry.Payer] -= entry.Amount
		e.room.Wallets[entry.Payee] += entry.Amount
	}
	e.room.BalanceLedger = append(append([]round.BalanceEntry{}, entries...), e.room.BalanceLedger...)
	e.room.CompletedRounds++
	e.room.RoundID = ""

	s.mu.Lock()
	delete(s.roundIndex, rd.ID)
	s.mu.Unlock()

	terminal := snapshotRound(rd)
	terminal.TurnTimer = nil
	e.round = nil
	e.lastEnded = terminal
	s.stopTurnTimer(e)

	s.emitRoom(e)
	if s.OnRoundEnded != nil {
		s.OnRoundEnded(e.room.ID, terminal, entries)
	}
	s.logger.Info("round ended", "room", e.room.ID, "round", terminal.ID, "entries", len(entries))
	return true
}
