package round

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wbbdlr/kvitlach/internal/game/deck"
)

func card(name string, values ...int) deck.Card {
	return deck.Card{Name: name, Values: values}
}

func rosier(name string, value int) deck.Card {
	return deck.Card{Name: name, Values: []int{value}, Kind: deck.KindRosier}
}

func player(id string) Player {
	return Player{ID: id, FirstName: id, Role: RolePlayer, Presence: Online}
}

func banker(id string) Player {
	return Player{ID: id, FirstName: id, Role: RoleBanker, Presence: Online}
}

// testRound builds a playing round with a stacked shoe; the banker
// seat goes last, as the dealer does.
func testRound(shoe []deck.Card, turns ...Turn) *Round {
	return &Round{
		ID:          "r1",
		RoomID:      "ROOM1",
		Deck:        shoe,
		Turns:       turns,
		Phase:       PhasePlaying,
		DeckCount:   1,
		RoundNumber: 1,
	}
}

func turn(p Player, cards ...deck.Card) Turn {
	return Turn{Player: p, State: TurnPending, Cards: cards}
}

func TestBetDrawsAndRaisesStake(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("3", 3)},
		turn(player("p1"), card("5", 5)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Bet("p1", 10))

	pt := rd.Turn("p1")
	assert.Len(t, pt.Cards, 2)
	assert.Equal(t, 10, pt.Bet)
	assert.Equal(t, TurnPending, pt.State)
	assert.Equal(t, PhasePlaying, rd.Phase)
	assert.Empty(t, rd.Deck)
}

func TestBetErrors(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("3", 3)},
		turn(player("p1"), card("5", 5)),
		turn(banker("b"), card("7", 7)),
	)
	assert.ErrorIs(t, rd.Bet("p1", 0), ErrInvalidBet)
	assert.ErrorIs(t, rd.Bet("nobody", 5), ErrTurnNotFound)

	rd.Deck = nil
	assert.ErrorIs(t, rd.Bet("p1", 5), ErrDeckEmpty)

	rd.Phase = PhaseTerminate
	assert.ErrorIs(t, rd.Bet("p1", 5), ErrRoundTerminated)
}

func TestBetRosierPairWinsOutright(t *testing.T) {
	rd := testRound(
		[]deck.Card{rosier("2", 2)},
		turn(player("p1"), rosier("11", 11)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Bet("p1", 10))
	assert.Equal(t, TurnWon, rd.Turn("p1").State)
}

func TestBlattDrawCannotBust(t *testing.T) {
	// First card 10, stakeless hit lands the multi-valued 12: totals
	// {22, 19, 20}, best 20, so the turn auto-stands.
	rd := testRound(
		[]deck.Card{card("12", 12, 9, 10)},
		turn(player("p1"), card("10", 10)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Hit("p1", false))

	pt := rd.Turn("p1")
	assert.Equal(t, TurnStandby, pt.State)
	assert.Equal(t, 0, pt.Bet)
}

func TestBlattDrawSuppressesHardBust(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("5", 5)},
		turn(player("p1"), card("10", 10), card("9", 9)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Hit("p1", false))
	// 24 is a bust, but a Blatt draw never loses; best >= 20 stands.
	assert.Equal(t, TurnStandby, rd.Turn("p1").State)
}

func TestStakedHitCanBust(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("9", 9), card("5", 5)},
		turn(player("p1"), card("10", 10)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Bet("p1", 5)) // draws 9 -> 19
	require.NoError(t, rd.Hit("p1", false))
	assert.Equal(t, TurnLost, rd.Turn("p1").State)
}

func TestStandWithoutStakeIsPush(t *testing.T) {
	rd := testRound(
		nil,
		turn(player("p1"), card("10", 10)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Stand("p1"))

	pt := rd.Turn("p1")
	assert.Equal(t, TurnWon, pt.State)
	require.NotNil(t, pt.SettledBet)
	assert.Equal(t, 0, *pt.SettledBet)
}

func TestStandWithStakeAwaitsBanker(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("9", 9)},
		turn(player("p1"), card("10", 10)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Bet("p1", 5))
	require.NoError(t, rd.Stand("p1"))

	assert.Equal(t, TurnStandby, rd.Turn("p1").State)
	assert.Equal(t, PhaseFinal, rd.Phase)
	assert.Equal(t, "b", rd.ActivePlayerID())
}

func TestAdvanceSkipsFinalWhenNobodyStands(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("10", 10), card("5", 5)},
		turn(player("p1"), card("10", 10)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Bet("p1", 5)) // 20
	require.NoError(t, rd.Hit("p1", false))
	require.Equal(t, TurnLost, rd.Turn("p1").State)

	// The only staked player busted; nothing awaits the banker.
	assert.Equal(t, PhaseTerminate, rd.Phase)
	bt := rd.Banker()
	assert.Equal(t, 5, bt.Bet)
}

func TestTieGoesToBanker(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("10", 10)},
		Turn{Player: player("p1"), State: TurnStandby, Cards: []deck.Card{card("10", 10), card("10", 10)}, Bet: 5},
		turn(banker("b"), card("10", 10)),
	)
	require.NoError(t, rd.Hit("b", false)) // banker at 20 too
	require.Equal(t, PhaseFinal, rd.Phase)
	require.NoError(t, rd.Stand("b"))

	assert.Equal(t, PhaseTerminate, rd.Phase)
	assert.Equal(t, TurnLost, rd.Turn("p1").State)

	entries := Balances(rd.Turns)
	require.Len(t, entries, 1)
	assert.Equal(t, BalanceEntry{Amount: 5, Payer: "p1", Payee: "b"}, entries[0])
}

func TestBankerBustPaysStandby(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("10", 10), card("9", 9)},
		Turn{Player: player("p1"), State: TurnStandby, Cards: []deck.Card{card("8", 8), card("7", 7)}, Bet: 10},
		turn(banker("b"), card("10", 10)),
	)
	require.NoError(t, rd.Hit("b", false)) // 20
	require.NoError(t, rd.Hit("b", false)) // 29, bust

	assert.Equal(t, PhaseTerminate, rd.Phase)
	assert.Equal(t, TurnWon, rd.Turn("p1").State)

	bt := rd.Banker()
	assert.Equal(t, -10, bt.Bet)
	assert.Equal(t, TurnLost, bt.State)

	entries := Balances(rd.Turns)
	require.Len(t, entries, 1)
	assert.Equal(t, BalanceEntry{Amount: 10, Payer: "b", Payee: "p1"}, entries[0])
}

func TestEndStateConservesStakes(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("10", 10)},
		Turn{Player: player("p1"), State: TurnStandby, Cards: []deck.Card{card("10", 10), card("9", 9)}, Bet: 10},
		Turn{Player: player("p2"), State: TurnStandby, Cards: []deck.Card{card("10", 10), card("4", 4)}, Bet: 7},
		Turn{Player: player("p3"), State: TurnSkipped, Cards: []deck.Card{card("6", 6)}, Bet: 3},
		turn(banker("b"), card("8", 8)),
	)
	require.NoError(t, rd.Hit("b", false)) // 18
	require.NoError(t, rd.Stand("b"))
	require.Equal(t, PhaseTerminate, rd.Phase)

	// p1 (19) beats 18, p2 (14) loses, p3 skipped out.
	sum := 0
	for _, turn := range rd.Turns {
		if turn.Player.Role == RoleBanker {
			sum += turn.Bet
			continue
		}
		if turn.SettledNet != nil {
			sum += *turn.SettledNet
		}
	}
	assert.Equal(t, 0, sum)
	assert.Equal(t, -3, rd.Banker().Bet) // lost 10, won 7
}

func TestBankerEleveroonAlwaysOn(t *testing.T) {
	rd := testRound(
		[]deck.Card{card("11", 11)},
		Turn{Player: player("p1"), State: TurnStandby, Cards: []deck.Card{card("9", 9), card("9", 9)}, Bet: 5},
		turn(banker("b"), card("4", 4), card("7", 7)),
	)
	require.NoError(t, rd.Hit("b", false))

	bt := rd.Banker()
	require.Len(t, bt.Cards, 3)
	assert.True(t, bt.Cards[2].EleveroonIgnored)
	assert.Equal(t, TurnPending, bt.State)
}

func TestPlayerEleveroonOptIn(t *testing.T) {
	stacked := []deck.Card{card("11", 11)}

	// Without the flag the 11 busts the staked hand.
	rd := testRound(
		append([]deck.Card{}, stacked...),
		Turn{Player: player("p1"), State: TurnPending, Cards: []deck.Card{card("4", 4), card("7", 7)}, Bet: 5},
		turn(banker("b"), card("9", 9)),
	)
	require.NoError(t, rd.Hit("p1", false))
	assert.Equal(t, TurnLost, rd.Turn("p1").State)

	// With the flag the card is ignored and the hand stays at 11.
	rd = testRound(
		append([]deck.Card{}, stacked...),
		Turn{Player: player("p1"), State: TurnPending, Cards: []deck.Card{card("4", 4), card("7", 7)}, Bet: 5},
		turn(banker("b"), card("9", 9)),
	)
	require.NoError(t, rd.Hit("p1", true))
	pt := rd.Turn("p1")
	assert.Equal(t, TurnPending, pt.State)
	assert.True(t, pt.Cards[2].EleveroonIgnored)
}

func TestSkipFoldsTurn(t *testing.T) {
	rd := testRound(
		nil,
		turn(player("p1"), card("5", 5)),
		turn(player("p2"), card("6", 6)),
		turn(banker("b"), card("7", 7)),
	)
	require.NoError(t, rd.Skip("p1"))
	assert.Equal(t, TurnSkipped, rd.Turn("p1").State)
	assert.Equal(t, "p2", rd.ActivePlayerID())
}

func TestActivePlayerWithBankLock(t *testing.T) {
	rd := testRound(
		nil,
		turn(player("p1"), card("5", 5)),
		turn(player("p2"), card("6", 6)),
		turn(banker("b"), card("7", 7)),
	)
	rd.BankLock = &BankLock{PlayerID: "p2", Stage: BankStagePlayer}
	assert.Equal(t, "p2", rd.ActivePlayerID())

	rd.BankLock.Stage = BankStageBanker
	assert.Equal(t, "b", rd.ActivePlayerID())

	rd.BankLock.Stage = BankStageDecision
	assert.Equal(t, "", rd.ActivePlayerID())
}
