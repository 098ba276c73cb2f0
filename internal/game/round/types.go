package round

import (
	"time"

	"github.com/Wbbdlr/kvitlach/internal/game/deck"
)

type Role string

const (
	RoleBanker Role = "banker"
	RolePlayer Role = "player"
)

type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// Player is the seat identity. ID is server-assigned and stable for
// the room's lifetime.
type Player struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Role      Role     `json:"role"`
	Presence  Presence `json:"presence"`
}

type TurnState string

const (
	TurnPending TurnState = "pending"
	TurnStandby TurnState = "standby"
	TurnWon     TurnState = "won"
	TurnLost    TurnState = "lost"
	TurnSkipped TurnState = "skipped"
)

// Turn is one seat's hand for the round. Cards are append-only, Bet is
// the cumulative stake. SettledBet/SettledNet are set once the turn is
// paid out, either at finalization or by a bank showdown.
type Turn struct {
	Player      Player      `json:"player"`
	State       TurnState   `json:"state"`
	Cards       []deck.Card `json:"cards"`
	Bet         int         `json:"bet"`
	BankRequest bool        `json:"bankRequest,omitempty"`
	SettledBet  *int        `json:"settledBet,omitempty"`
	SettledNet  *int        `json:"settledNet,omitempty"`

	// SettledByBank marks a stake already paid out by a BANK!
	// showdown; finalization must not ledger it again.
	SettledByBank bool `json:"settledByBank,omitempty"`
}

type BankStage string

const (
	BankStagePlayer   BankStage = "player"
	BankStageBanker   BankStage = "banker"
	BankStageDecision BankStage = "decision"
)

// BankLock is present iff a BANK! showdown is in flight. While set,
// only the designated actor may act on the round.
type BankLock struct {
	PlayerID     string    `json:"playerId"`
	Stage        BankStage `json:"stage"`
	Exposure     int       `json:"exposure"`
	ThroughIndex int       `json:"throughIndex"`
	InitiatedAt  time.Time `json:"initiatedAt"`
}

type Phase string

const (
	PhasePlaying   Phase = "playing"
	PhaseFinal     Phase = "final"
	PhaseTerminate Phase = "terminate"
)

// TimerInfo is the client-visible view of the running turn timer.
type TimerInfo struct {
	PlayerID  string    `json:"playerId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Duration  int       `json:"duration"`
}

// BalanceEntry is one settled stake, appended to the room ledger.
type BalanceEntry struct {
	Amount int    `json:"amount"`
	Payer  string `json:"payer"`
	Payee  string `json:"payee"`
}

// Round is the per-round value the engine transitions. The remaining
// shoe never leaves the server.
type Round struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"roomId"`
	Deck        []deck.Card `json:"-"`
	Turns       []Turn      `json:"turns"`
	Phase       Phase       `json:"phase"`
	DeckCount   int         `json:"deckCount"`
	RoundNumber int         `json:"roundNumber"`
	BankLock    *BankLock   `json:"bankLock,omitempty"`
	TurnTimer   *TimerInfo  `json:"turnTimer,omitempty"`

	// TerminateDelayed hints that the terminal state was reached by a
	// stand and clients may pause before the payout reveal.
	TerminateDelayed bool `json:"terminateDelayed,omitempty"`
}

// Turn returns the turn for a player, or nil.
func (r *Round) Turn(playerID string) *Turn {
	for i := range r.Turns {
		if r.Turns[i].Player.ID == playerID {
			return &r.Turns[i]
		}
	}
	return nil
}

// Banker returns the banker's turn, or nil.
func (r *Round) Banker() *Turn {
	for i := range r.Turns {
		if r.Turns[i].Player.Role == RoleBanker {
			return &r.Turns[i]
		}
	}
	return nil
}

// TurnIndex returns the seat index of a player within the round, or -1.
func (r *Round) TurnIndex(playerID string) int {
	for i := range r.Turns {
		if r.Turns[i].Player.ID == playerID {
			return i
		}
	}
	return -1
}

// ActivePlayerID resolves whose action the round is waiting on; empty
// when nobody may act (bank decision, terminated).
func (r *Round) ActivePlayerID() string {
	bankerID := ""
	if b := r.Banker(); b != nil {
		bankerID = b.Player.ID
	}
	if r.Phase == PhaseTerminate {
		return ""
	}
	if r.BankLock != nil {
		switch r.BankLock.Stage {
		case BankStageBanker:
			return bankerID
		case BankStagePlayer:
			return r.BankLock.PlayerID
		default:
			return ""
		}
	}
	if r.Phase == PhaseFinal {
		return bankerID
	}
	for i := range r.Turns {
		if r.Turns[i].State == TurnPending {
			return r.Turns[i].Player.ID
		}
	}
	return ""
}
