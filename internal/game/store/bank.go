package store

import (
	"context"

	"github.com/Wbbdlr/kvitlach/internal/game/hand"
	"github.com/Wbbdlr/kvitlach/internal/game/round"
)

// bankWindow is the banker's maximum solvent exposure at a seat: the
// bank wallet minus the outstanding stakes of every earlier non-banker
// seat that is still in contention.
func (s *Store) bankWindow(e *roomEntry, playerID string) int {
	rd := e.round
	banker := rd.Banker()
	if banker == nil {
		return 0
	}
	seat := rd.TurnIndex(playerID)
	outstanding := 0
	for i := 0; i < seat; i++ {
		t := &rd.Turns[i]
		if t.Player.Role == round.RoleBanker {
			continue
		}
		if t.State == round.TurnLost || t.State == round.TurnSkipped {
			continue
		}
		outstanding += t.Bet
	}
	available := e.room.Wallets[banker.Player.ID] - outstanding
	if available < 0 {
		return 0
	}
	return available
}

// processBankLock runs the showdown sub-machine after every turn
// action: player stage hands over to the banker once the initiator
// resolves, banker stage settles the covered seats and either resumes
// the round or parks it in the decision stage.
func (s *Store) processBankLock(e *roomEntry) {
	rd := e.round
	if rd == nil || rd.BankLock == nil {
		return
	}
	lock := rd.BankLock

	switch lock.Stage {
	case round.BankStagePlayer:
		t := rd.Turn(lock.PlayerID)
		if t == nil {
			rd.BankLock = nil
			rd.Advance()
			return
		}
		if t.State == round.TurnPending {
			return
		}
		if t.State == round.TurnLost {
			// The challenge died on its own; the round continues.
			rd.BankLock = nil
			rd.Advance()
			return
		}
		lock.Stage = round.BankStageBanker

	case round.BankStageBanker:
		b := rd.Banker()
		if b == nil {
			rd.BankLock = nil
			rd.Advance()
			return
		}
		if b.State == round.TurnPending {
			return
		}
		s.settleThrough(e, lock.ThroughIndex)
		if e.room.Wallets[b.Player.ID] > 0 {
			s.resumeBanker(e)
		} else {
			lock.Stage = round.BankStageDecision
		}
	}
}

// settleThrough resolves every covered seat against the banker's
// final hand, pays wallets immediately and prepends the batch to the
// ledger. Settled stakes are zeroed so finalization cannot pay twice.
func (s *Store) settleThrough(e *roomEntry, throughIndex int) []round.BalanceEntry {
	rd := e.round
	banker := rd.Banker()
	bankerOut := hand.Classify(banker.Cards)
	bankerBest := hand.BestTotal(banker.Cards)
	bankerBust := bankerOut == hand.Lost

	var entries []round.BalanceEntry
	for i := range rd.Turns {
		t := &rd.Turns[i]
		if t.Player.Role == round.RoleBanker || i > throughIndex {
			continue
		}
		if t.State == round.TurnPending || t.State == round.TurnSkipped || t.SettledBet != nil {
			continue
		}
		out := hand.Classify(t.Cards)
		won := false
		switch out {
		case hand.Won:
			won = true
		case hand.Lost:
			won = false
		default:
			// Ties go to the banker.
			won = bankerBust || hand.BestTotal(t.Cards) > bankerBest
		}

		stake := t.Bet
		settled := stake
		net := stake
		if won {
			t.State = round.TurnWon
		} else {
			t.State = round.TurnLost
			net = -stake
		}
		t.SettledBet = &settled
		t.SettledNet = &net
		t.SettledByBank = true
		t.Bet = 0

		if stake == 0 {
			continue
		}
		if won {
			entries = append(entries, round.BalanceEntry{Amount: stake, Payer: banker.Player.ID, Payee: t.Player.ID})
		} else {
			entries = append(entries, round.BalanceEntry{Amount: stake, Payer: t.Player.ID, Payee: banker.Player.ID})
		}
	}

	for _, entry := range entries {
		e.room.Wallets[entry.Payer] -= entry.Amount
		e.room.Wallets[entry.Payee] += entry.Amount
	}
	if len(entries) > 0 {
		e.room.BalanceLedger = append(append([]round.BalanceEntry{}, entries...), e.room.BalanceLedger...)
		s.emitRoom(e)
	}
	return entries
}

// resumeBanker puts the banker back in play after a survived
// showdown: a single fresh card and a pending hand.
func (s *Store) resumeBanker(e *roomEntry) {
	rd := e.round
	b := rd.Banker()
	rd.BankLock = nil
	b.Bet = 0
	b.Cards = nil
	b.State = round.TurnPending
	if card, err := rd.Draw(); err == nil {
		b.Cards = append(b.Cards, card)
	}
	rd.Advance()
}

// TopUpBanker applies a signed delta to the bank wallet. A positive
// top-up while the showdown sits in the decision stage revives the
// round.
func (s *Store) TopUpBanker(ctx context.Context, roomID, actorID string, amount int, note string) (*Room, *round.Round, error) {
	var (
		snap   *Room
		rdSnap *round.Round
	)
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		if amount == 0 {
			return round.ErrInvalidBet
		}
		if e.room.Wallets[actorID]+amount < 0 {
			return ErrInsufficientBank
		}
		e.room.Wallets[actorID] += amount

		rd := e.round
		if rd != nil && rd.BankLock != nil && rd.BankLock.Stage == round.BankStageDecision && e.room.Wallets[actorID] > 0 {
			s.resumeBanker(e)
			s.afterRoundMutation(e)
			rdSnap = s.roundResult(e)
		} else if e.round != nil {
			rdSnap = snapshotRound(e.round)
		}
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	if err == nil {
		s.audit.Action(normalizeRoomID(roomID), actorID, "room:banker-topup", sanitizeNote(note))
	}
	return snap, rdSnap, err
}

// AdjustPlayerWallet applies a signed delta to any wallet; the result
// must stay non-negative.
func (s *Store) AdjustPlayerWallet(ctx context.Context, roomID, actorID, targetID string, amount int, note string) (*Room, error) {
	var snap *Room
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		target := e.room.Player(targetID)
		if target == nil {
			return ErrPlayerNotFound
		}
		if amount == 0 {
			return round.ErrInvalidBet
		}
		if e.room.Wallets[targetID]+amount < 0 {
			if target.Role == round.RoleBanker {
				return ErrInsufficientBank
			}
			return ErrInsufficientFunds
		}
		e.room.Wallets[targetID] += amount
		snap = e.room.snapshot()
		s.emitRoom(e)
		return nil
	})
	if err == nil {
		s.audit.Action(normalizeRoomID(roomID), actorID, "player:bank-adjust", sanitizeNote(note))
	}
	return snap, err
}

// EndRoundAfterBankDecision terminates a round stuck in the decision
// stage: every unresolved non-banker turn is skipped and the round
// finalizes with whatever was already settled.
func (s *Store) EndRoundAfterBankDecision(ctx context.Context, roomID, actorID string) (*Room, *round.Round, error) {
	var (
		snap   *Room
		rdSnap *round.Round
	)
	err := s.withRoom(roomID, func(e *roomEntry) error {
		actor := e.room.Player(actorID)
		if actor == nil || actor.Role != round.RoleBanker {
			return ErrForbidden
		}
		rd := e.round
		if rd == nil {
			return ErrRoundNotFound
		}
		if rd.BankLock == nil || rd.BankLock.Stage != round.BankStageDecision {
			return ErrBankNotInDecision
		}
		for i := range rd.Turns {
			t := &rd.Turns[i]
			if t.Player.Role == round.RoleBanker {
				continue
			}
			if t.State == round.TurnPending || t.State == round.TurnStandby {
				t.State = round.TurnSkipped
			}
		}
		rd.BankLock = nil
		rd.Advance()
		s.afterRoundMutation(e)
		snap = e.room.snapshot()
		rdSnap = e.lastEnded
		return nil
	})
	if err == nil {
		s.audit.Action(normalizeRoomID(roomID), actorID, "round:banker-end", "")
	}
	return snap, rdSnap, err
}
