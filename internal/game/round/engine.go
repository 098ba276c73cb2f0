package round

import (
	"errors"

	"github.com/Wbbdlr/kvitlach/internal/game/deck"
	"github.com/Wbbdlr/kvitlach/internal/game/hand"
)

var (
	ErrRoundTerminated = errors.New("round_terminated")
	ErrInvalidBet      = errors.New("invalid_bet")
	ErrDeckEmpty       = errors.New("deck_empty")
	ErrTurnNotFound    = errors.New("turn_not_found")
)

// pendingTurn locates a player's turn and verifies it can still act.
func (r *Round) pendingTurn(playerID string) (*Turn, error) {
	if r.Phase == PhaseTerminate {
		return nil, ErrRoundTerminated
	}
	t := r.Turn(playerID)
	if t == nil || t.State != TurnPending {
		return nil, ErrTurnNotFound
	}
	return t, nil
}

// Draw removes and returns the head of the shoe.
func (r *Round) Draw() (deck.Card, error) {
	if len(r.Deck) == 0 {
		return deck.Card{}, ErrDeckEmpty
	}
	c := r.Deck[0]
	r.Deck = r.Deck[1:]
	return c, nil
}

// Bet draws one card, raises the cumulative stake and re-classifies
// the turn.
func (r *Round) Bet(playerID string, amount int) error {
	if amount <= 0 {
		return ErrInvalidBet
	}
	t, err := r.pendingTurn(playerID)
	if err != nil {
		return err
	}
	card, err := r.Draw()
	if err != nil {
		return err
	}
	t.Cards = append(t.Cards, card)
	t.Bet += amount
	t.State = stateOf(hand.Classify(t.Cards))
	r.Advance()
	return nil
}

// Hit draws one card without raising the stake. The banker always
// plays with eleveroon; a stakeless player draw (Blatt) cannot bust
// and auto-stands at 20 or better.
func (r *Round) Hit(playerID string, eleveroon bool) error {
	t, err := r.pendingTurn(playerID)
	if err != nil {
		return err
	}
	if len(r.Deck) == 0 {
		return ErrDeckEmpty
	}
	card := r.Deck[0]
	r.Deck = r.Deck[1:]

	if t.Player.Role == RoleBanker {
		eleveroon = true
	}
	if eleveroon && isEleven(card) && hand.BestTotal(t.Cards) == 11 && wouldBust(t.Cards, card) {
		card.EleveroonIgnored = true
	}
	t.Cards = append(t.Cards, card)

	out := hand.Classify(t.Cards)
	if t.Player.Role != RoleBanker && t.Bet == 0 {
		// Blatt draw: a bust is suppressed back to pending.
		if out == hand.Lost {
			out = hand.Pending
		}
		t.State = stateOf(out)
		if t.State == TurnPending && hand.BestTotal(t.Cards) >= 20 {
			t.State = TurnStandby
		}
	} else {
		t.State = stateOf(out)
	}
	r.Advance()
	return nil
}

// Stand commits the hand. A stakeless player stand is a push and wins
// nothing; everyone else moves to standby awaiting the banker.
func (r *Round) Stand(playerID string) error {
	t, err := r.pendingTurn(playerID)
	if err != nil {
		return err
	}
	if t.Player.Role != RoleBanker && t.Bet == 0 {
		zero := 0
		t.State = TurnWon
		t.SettledBet = &zero
		t.SettledNet = &zero
	} else {
		t.State = TurnStandby
	}
	r.Advance()
	if r.Phase == PhaseTerminate {
		r.TerminateDelayed = true
	}
	return nil
}

// Skip folds the turn out of the round.
func (r *Round) Skip(playerID string) error {
	t, err := r.pendingTurn(playerID)
	if err != nil {
		return err
	}
	t.State = TurnSkipped
	r.Advance()
	return nil
}

// Advance recomputes the phase. While a bank lock is in flight the
// sub-machine owns the flow and the phase is pinned to playing.
func (r *Round) Advance() {
	if r.Phase == PhaseTerminate {
		return
	}
	if r.BankLock != nil {
		r.Phase = PhasePlaying
		return
	}
	pendingNB, resolvedNB, standbyNB := 0, 0, 0
	var banker *Turn
	for i := range r.Turns {
		t := &r.Turns[i]
		if t.Player.Role == RoleBanker {
			banker = t
			continue
		}
		if t.State == TurnPending {
			pendingNB++
			continue
		}
		resolvedNB++
		if t.State == TurnStandby {
			standbyNB++
		}
	}
	bankerPending := banker != nil && banker.State == TurnPending

	switch {
	case pendingNB > 0:
		r.Phase = PhasePlaying
	case bankerPending && resolvedNB > 0 && standbyNB > 0:
		r.Phase = PhaseFinal
	default:
		r.Phase = PhaseTerminate
		r.resolveEnd()
	}
}

// resolveEnd recomputes every classification from the cards (Blatt
// suppression no longer applies), settles standby hands against the
// banker and overwrites the banker's bet with the signed net.
func (r *Round) resolveEnd() {
	banker := r.Banker()
	if banker == nil {
		return
	}
	bankerOut := hand.Classify(banker.Cards)
	bankerBest := hand.BestTotal(banker.Cards)
	bankerBust := bankerOut == hand.Lost

	net := 0
	for i := range r.Turns {
		t := &r.Turns[i]
		if t.Player.Role == RoleBanker || t.State == TurnSkipped || t.SettledBet != nil {
			continue
		}
		out := hand.Classify(t.Cards)
		switch {
		case out == hand.Won:
			t.State = TurnWon
		case out == hand.Lost:
			t.State = TurnLost
		case t.State == TurnStandby:
			// Ties go to the banker.
			if bankerBust || hand.BestTotal(t.Cards) > bankerBest {
				t.State = TurnWon
			} else {
				t.State = TurnLost
			}
		default:
			t.State = TurnLost
		}
		stake := t.Bet
		settled := stake
		t.SettledBet = &settled
		netAmt := stake
		if t.State == TurnLost {
			netAmt = -stake
		}
		t.SettledNet = &netAmt
		net -= netAmt
	}

	banker.Bet = net
	bankerNet := net
	banker.SettledNet = &bankerNet
	switch {
	case bankerOut == hand.Won:
		banker.State = TurnWon
	case net < 0:
		banker.State = TurnLost
	default:
		banker.State = TurnStandby
	}
}

// Balances derives the ledger entries for a resolved set of turns.
// Skipped and already-settled stakes produce nothing.
func Balances(turns []Turn) []BalanceEntry {
	var banker *Turn
	for i := range turns {
		if turns[i].Player.Role == RoleBanker {
			banker = &turns[i]
			break
		}
	}
	if banker == nil {
		return nil
	}
	entries := make([]BalanceEntry, 0, len(turns))
	for i := range turns {
		t := &turns[i]
		if t.Player.Role == RoleBanker || t.SettledNet == nil || t.SettledByBank {
			continue
		}
		switch {
		case *t.SettledNet > 0:
			entries = append(entries, BalanceEntry{Amount: *t.SettledNet, Payer: banker.Player.ID, Payee: t.Player.ID})
		case *t.SettledNet < 0:
			entries = append(entries, BalanceEntry{Amount: -*t.SettledNet, Payer: t.Player.ID, Payee: banker.Player.ID})
		}
	}
	return entries
}

func stateOf(out hand.Outcome) TurnState {
	switch out {
	case hand.Won:
		return TurnWon
	case hand.Lost:
		return TurnLost
	default:
		return TurnPending
	}
}

func isEleven(c deck.Card) bool {
	return len(c.Values) == 1 && c.Values[0] == 11
}

func wouldBust(cards []deck.Card, next deck.Card) bool {
	trial := make([]deck.Card, len(cards), len(cards)+1)
	copy(trial, cards)
	trial = append(trial, next)
	return hand.Classify(trial) == hand.Lost
}
