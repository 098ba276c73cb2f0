package store

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	charm "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wbbdlr/kvitlach/internal/audit"
	"github.com/Wbbdlr/kvitlach/internal/game/deck"
	"github.com/Wbbdlr/kvitlach/internal/game/round"
	"github.com/Wbbdlr/kvitlach/internal/session"
)

func newTestStore() *Store {
	sessions := session.NewManager([]byte("test-secret"), session.NewMemoryRepo())
	return New(sessions, audit.NewNop(), charm.New(io.Discard))
}

func card(name string, values ...int) deck.Card {
	return deck.Card{Name: name, Values: values}
}

// setupTable creates a room with the given banker bankroll and joins
// n players.
func setupTable(t *testing.T, s *Store, bankroll int, n int) (*Room, round.Player, []round.Player) {
	t.Helper()
	ctx := context.Background()
	room, banker, _, err := s.CreateRoom(ctx, CreateRoomParams{
		FirstName:      "Dana",
		BankerBankroll: &bankroll,
	})
	require.NoError(t, err)

	players := make([]round.Player, 0, n)
	for i := 0; i < n; i++ {
		r, p, _, err := s.JoinRoom(ctx, room.ID, JoinParams{FirstName: string(rune('A' + i))})
		require.NoError(t, err)
		players = append(players, p)
		room = r
	}
	return room, banker, players
}

func walletSum(room *Room) int {
	sum := 0
	for _, v := range room.Wallets {
		sum += v
	}
	return sum
}

func TestCreateRoomDefaults(t *testing.T) {
	s := newTestStore()
	room, banker, sess, err := s.CreateRoom(context.Background(), CreateRoomParams{FirstName: "Dana"})
	require.NoError(t, err)

	assert.Len(t, room.ID, 6)
	assert.Equal(t, DefaultBuyIn, room.DefaultBuyIn)
	assert.Equal(t, DefaultBuyIn, room.BankerBuyIn)
	assert.Equal(t, DefaultBuyIn, room.Wallets[banker.ID])
	assert.Equal(t, round.RoleBanker, banker.Role)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, banker.ID, sess.PlayerID)
}

func TestCreateRoomCustomID(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	room, _, _, err := s.CreateRoom(ctx, CreateRoomParams{FirstName: "Dana", RoomID: "my-room"})
	require.NoError(t, err)
	assert.Equal(t, "MY-ROOM", room.ID)

	_, _, _, err = s.CreateRoom(ctx, CreateRoomParams{FirstName: "Lee", RoomID: "my-room"})
	assert.EqualError(t, err, "Game ID taken")

	_, _, _, err = s.CreateRoom(ctx, CreateRoomParams{FirstName: "Lee", RoomID: "ab"})
	assert.EqualError(t, err, "Game ID invalid")

	_, _, _, err = s.CreateRoom(ctx, CreateRoomParams{FirstName: "Lee", RoomID: "lower case!"})
	assert.EqualError(t, err, "Game ID invalid")
}

func TestCreateRoomInvalidBankroll(t *testing.T) {
	s := newTestStore()
	zero := 0
	_, _, _, err := s.CreateRoom(context.Background(), CreateRoomParams{FirstName: "Dana", BankerBankroll: &zero})
	assert.ErrorIs(t, err, ErrInvalidBankroll)
}

func TestJoinRoom(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, _, err := s.CreateRoom(ctx, CreateRoomParams{FirstName: "Dana", Password: "pw", BuyIn: 150})
	require.NoError(t, err)

	_, _, _, err = s.JoinRoom(ctx, room.ID, JoinParams{FirstName: "Ben", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, _, _, err = s.JoinRoom(ctx, "NOSUCH", JoinParams{FirstName: "Ben"})
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// Room ids are case-insensitive on the wire.
	joined, p, sess, err := s.JoinRoom(ctx, strings.ToLower(room.ID), JoinParams{FirstName: "Ben", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, 150, joined.Wallets[p.ID])
	assert.Equal(t, round.RolePlayer, p.Role)
	assert.NotEmpty(t, sess.Token)
	assert.Len(t, joined.Players, 2)
}

func TestNameSanitization(t *testing.T) {
	s := newTestStore()
	long := make([]rune, 60)
	for i := range long {
		long[i] = 'x'
	}
	_, banker, _, err := s.CreateRoom(context.Background(), CreateRoomParams{FirstName: "  " + string(long) + "  "})
	require.NoError(t, err)
	assert.Len(t, []rune(banker.FirstName), maxNameLen)
}

func TestJoinDuringRoundWaits(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, _ := setupTable(t, s, 100, 1)

	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, rd.Turns, 2)

	joined, late, _, err := s.JoinRoom(ctx, room.ID, JoinParams{FirstName: "Late"})
	require.NoError(t, err)
	assert.Contains(t, joined.WaitingPlayerIDs, late.ID)

	got, err := s.GetRound(ctx, rd.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Turn(late.ID))
}

func TestSessionRotationOnResume(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, _, err := s.CreateRoom(ctx, CreateRoomParams{FirstName: "Dana"})
	require.NoError(t, err)
	_, p, sess, err := s.JoinRoom(ctx, room.ID, JoinParams{FirstName: "Ben"})
	require.NoError(t, err)

	_, _, _, fresh, err := s.ResumePlayer(ctx, room.ID, p.ID, sess.Token)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, fresh.Token)

	// The rotated-out token is dead.
	_, _, _, _, err = s.ResumePlayer(ctx, room.ID, p.ID, sess.Token)
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	_, _, _, _, err = s.ResumePlayer(ctx, room.ID, p.ID, fresh.Token)
	require.NoError(t, err)
}

func TestResumeErrors(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, sess, err := s.CreateRoom(ctx, CreateRoomParams{FirstName: "Dana"})
	require.NoError(t, err)

	_, _, _, _, err = s.ResumePlayer(ctx, room.ID, "nobody", sess.Token)
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	_, _, _, _, err = s.ResumePlayer(ctx, "NOSUCH", banker.ID, sess.Token)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, _, _, _, err = s.ResumePlayer(ctx, room.ID, banker.ID, "garbage")
	assert.ErrorIs(t, err, session.ErrInvalidSession)
}

func TestSwitchAdmin(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 1)
	p := players[0]

	_, err := s.SwitchAdmin(ctx, room.ID, p.ID, banker.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.SwitchAdmin(ctx, room.ID, banker.ID, banker.ID)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	after, err := s.SwitchAdmin(ctx, room.ID, banker.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, round.RoleBanker, after.Player(p.ID).Role)
	assert.Equal(t, round.RolePlayer, after.Player(banker.ID).Role)
}

func TestKickPlayer(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 2)
	target := players[0]

	_, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)

	after, rd, err := s.KickPlayer(ctx, room.ID, banker.ID, target.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Player(target.ID))
	assert.NotContains(t, after.Wallets, target.ID)
	if rd != nil {
		assert.Nil(t, rd.Turn(target.ID))
	}

	_, _, err = s.KickPlayer(ctx, room.ID, banker.ID, banker.ID)
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestLeaveRoomKeepsWallet(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 1)
	p := players[0]

	after, err := s.LeaveRoom(ctx, room.ID, p.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Player(p.ID))
	assert.Contains(t, after.Wallets, p.ID)

	_, err = s.LeaveRoom(ctx, room.ID, banker.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStartRoundNotEnoughPlayers(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, _, err := s.CreateRoom(ctx, CreateRoomParams{FirstName: "Dana"})
	require.NoError(t, err)

	_, err = s.StartRound(ctx, room.ID, 0)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)
}

func TestStartRoundDealsOneCardEach(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 2)

	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, rd.Turns, 3)
	for _, turn := range rd.Turns {
		assert.Len(t, turn.Cards, 1)
		assert.Equal(t, round.TurnPending, turn.State)
		assert.Zero(t, turn.Bet)
	}
	// Banker is dealt last.
	assert.Equal(t, banker.ID, rd.Turns[2].Player.ID)
	assert.Equal(t, 1, rd.RoundNumber)
	assert.Equal(t, deck.SizeFor(3), rd.DeckCount)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, rd.ID, got.RoundID)
	_ = players
}

func TestSeatRotation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, players := setupTable(t, s, 100, 3)

	var firstSeats []string
	for i := 0; i < 6; i++ {
		rd, err := s.StartRound(ctx, room.ID, 0)
		require.NoError(t, err)
		firstSeats = append(firstSeats, rd.Turns[0].Player.ID)
	}
	// Over six rounds with three players, each leads twice.
	counts := make(map[string]int)
	for _, id := range firstSeats {
		counts[id]++
	}
	for _, p := range players {
		assert.Equal(t, 2, counts[p.ID], "player %s should lead twice", p.FirstName)
	}
	// And consecutive rounds never repeat the leader.
	for i := 1; i < len(firstSeats); i++ {
		assert.NotEqual(t, firstSeats[i-1], firstSeats[i])
	}
}

// playRoundOut drives a round to completion with conservative play:
// every player bets once then stands, the banker stands.
func playRoundOut(t *testing.T, s *Store, roomID, roundID string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 64; i++ {
		rd, err := s.GetRound(ctx, roundID)
		if err == ErrRoundNotFound {
			return
		}
		require.NoError(t, err)
		active := rd.ActivePlayerID()
		require.NotEmpty(t, active, "round should always have an active turn")

		turn := rd.Turn(active)
		if turn.Player.Role == round.RoleBanker {
			_, err = s.ApplyStand(ctx, roundID, active)
		} else if turn.Bet == 0 {
			_, err = s.ApplyBet(ctx, roundID, active, 5, false)
		} else {
			_, err = s.ApplyStand(ctx, roundID, active)
		}
		require.NoError(t, err)
	}
	t.Fatal("round did not terminate")
}

func TestWalletConservationAcrossRound(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, _ := setupTable(t, s, 200, 2)
	total := walletSum(room)
	require.Equal(t, 400, total)

	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)
	playRoundOut(t, s, room.ID, rd.ID)

	after, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, total, walletSum(after))
	assert.Equal(t, 1, after.CompletedRounds)
	assert.Empty(t, after.RoundID)

	// Every ledger entry names two seats of the room.
	for _, entry := range after.BalanceLedger {
		assert.Greater(t, entry.Amount, 0)
		assert.Contains(t, after.Wallets, entry.Payer)
		assert.Contains(t, after.Wallets, entry.Payee)
	}
}

func TestBetValidation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, players := setupTable(t, s, 50, 1)
	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)
	p := players[0]

	_, err = s.ApplyBet(ctx, rd.ID, p.ID, 0, false)
	assert.ErrorIs(t, err, round.ErrInvalidBet)

	// More than the player's wallet.
	_, err = s.ApplyBet(ctx, rd.ID, p.ID, 101, false)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// More than the bank can cover.
	_, err = s.ApplyBet(ctx, rd.ID, p.ID, 60, false)
	assert.EqualError(t, err, "bank_limit:50")

	// Declared bank with the wrong amount.
	_, err = s.ApplyBet(ctx, rd.ID, p.ID, 30, true)
	assert.ErrorIs(t, err, ErrInvalidBankAmount)

	_, err = s.ApplyBet(ctx, "nosuch", p.ID, 5, false)
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestBankLockGatesTable(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, _, _ := setupTable(t, s, 50, 3)
	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)

	seat1 := rd.Turns[0].Player.ID
	seat2 := rd.Turns[1].Player.ID
	seat3 := rd.Turns[2].Player.ID

	got, err := s.ApplyBet(ctx, rd.ID, seat1, 10, false)
	require.NoError(t, err)
	if got.Turn(seat1).State == round.TurnPending {
		_, err = s.ApplyStand(ctx, rd.ID, seat1)
		require.NoError(t, err)
	}

	// seat2's window: 50 minus seat1's outstanding 10.
	got, err = s.ApplyBet(ctx, rd.ID, seat2, 40, true)
	require.NoError(t, err)
	require.NotNil(t, got.BankLock)
	assert.Equal(t, 40, got.BankLock.Exposure)
	assert.Equal(t, seat2, got.BankLock.PlayerID)

	if got.BankLock.Stage == round.BankStagePlayer {
		// Everyone but the initiator is frozen, and nobody skips
		// through a live challenge.
		_, err = s.ApplyHit(ctx, rd.ID, seat3, false)
		assert.ErrorIs(t, err, ErrBankLocked)
		_, err = s.ApplySkip(ctx, rd.ID, seat3, "")
		assert.ErrorIs(t, err, ErrBankLocked)

		got, err = s.ApplyStand(ctx, rd.ID, seat2)
		require.NoError(t, err)
	}

	if got.BankLock != nil && got.BankLock.Stage == round.BankStageBanker {
		_, err = s.ApplyHit(ctx, rd.ID, seat3, false)
		assert.ErrorIs(t, err, ErrBankLocked)
	}

	// The lock sum never creates or destroys chips.
	after, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 50+3*DefaultBuyIn, walletSum(after))
}

// TestBankShowdownToDecision: bankroll 50, seat A standing 10,
// initiator B at the 40 window, banker busts; the bank hits zero and
// parks in the decision stage.
func TestBankShowdownToDecision(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 50, 2)
	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)

	a, b := players[0], players[1]
	e := s.entry(room.ID)
	e.mu.Lock()
	e.round.Turns = []round.Turn{
		{Player: *roomPlayer(e.room, a.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("8", 8)}, Bet: 10},
		{Player: *roomPlayer(e.room, b.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("10", 10)}, Bet: 40},
		{Player: *roomPlayer(e.room, banker.ID), State: round.TurnLost, Cards: []deck.Card{card("10", 10), card("9", 9), card("5", 5)}},
	}
	e.round.BankLock = &round.BankLock{
		PlayerID:     b.ID,
		Stage:        round.BankStageBanker,
		Exposure:     40,
		ThroughIndex: 1,
		InitiatedAt:  time.Now(),
	}
	s.processBankLock(e)
	e.mu.Unlock()

	got, err := s.GetRound(ctx, rd.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BankLock)
	assert.Equal(t, round.BankStageDecision, got.BankLock.Stage)

	after, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Wallets[banker.ID])
	assert.Equal(t, 110, after.Wallets[a.ID])
	assert.Equal(t, 140, after.Wallets[b.ID])
	require.Len(t, after.BalanceLedger, 2)

	// Frozen table: only the decision commands may run.
	_, err = s.ApplyHit(ctx, rd.ID, banker.ID, false)
	assert.ErrorIs(t, err, ErrBankerDeciding)

	// Ending the round flips the leftovers to skipped and finalizes.
	roomAfter, terminal, err := s.EndRoundAfterBankDecision(ctx, room.ID, banker.ID)
	require.NoError(t, err)
	require.NotNil(t, terminal)
	assert.Equal(t, round.PhaseTerminate, terminal.Phase)
	assert.Equal(t, 1, roomAfter.CompletedRounds)
	assert.Empty(t, roomAfter.RoundID)
	assert.Equal(t, walletSum(after), walletSum(roomAfter))
}

func TestBankShowdownResumesWhenBankSurvives(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 3)
	rd, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)

	a, b, cPlayer := players[0], players[1], players[2]
	e := s.entry(room.ID)
	e.mu.Lock()
	e.round.Turns = []round.Turn{
		{Player: *roomPlayer(e.room, a.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("8", 8)}, Bet: 10},
		{Player: *roomPlayer(e.room, b.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("9", 9)}, Bet: 20},
		{Player: *roomPlayer(e.room, cPlayer.ID), State: round.TurnPending, Cards: []deck.Card{card("5", 5)}},
		{Player: *roomPlayer(e.room, banker.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("9", 9)}},
	}
	e.round.BankLock = &round.BankLock{
		PlayerID:     b.ID,
		Stage:        round.BankStageBanker,
		Exposure:     20,
		ThroughIndex: 1,
		InitiatedAt:  time.Now(),
	}
	s.processBankLock(e)
	s.afterRoundMutation(e)
	e.mu.Unlock()

	// Banker at 19: A (18) loses, B (19) ties and loses. Bank grows,
	// the lock clears and the round resumes for seat C.
	got, err := s.GetRound(ctx, rd.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BankLock)
	assert.Equal(t, round.PhasePlaying, got.Phase)
	assert.Equal(t, cPlayer.ID, got.ActivePlayerID())

	bankerTurn := got.Turn(banker.ID)
	require.NotNil(t, bankerTurn)
	assert.Equal(t, round.TurnPending, bankerTurn.State)
	assert.Len(t, bankerTurn.Cards, 1)

	after, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 130, after.Wallets[banker.ID])
	assert.Equal(t, 90, after.Wallets[a.ID])
	assert.Equal(t, 80, after.Wallets[b.ID])
}

func TestTopUpBankerRevivesDecision(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 50, 2)
	_, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)

	a, b := players[0], players[1]
	e := s.entry(room.ID)
	e.mu.Lock()
	e.round.Turns = []round.Turn{
		{Player: *roomPlayer(e.room, a.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("8", 8)}, Bet: 10},
		{Player: *roomPlayer(e.room, b.ID), State: round.TurnStandby, Cards: []deck.Card{card("10", 10), card("10", 10)}, Bet: 40},
		{Player: *roomPlayer(e.room, banker.ID), State: round.TurnLost, Cards: []deck.Card{card("10", 10), card("9", 9), card("5", 5)}},
	}
	e.round.BankLock = &round.BankLock{
		PlayerID:     b.ID,
		Stage:        round.BankStageBanker,
		Exposure:     40,
		ThroughIndex: 1,
		InitiatedAt:  time.Now(),
	}
	s.processBankLock(e)
	e.mu.Unlock()

	_, _, err = s.EndRoundAfterBankDecision(ctx, room.ID, players[0].ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// A top-up replenishes the bank; with every seat settled the
	// round has nothing left and finalizes on resume.
	roomAfter, _, err := s.TopUpBanker(ctx, room.ID, banker.ID, 25, "rebuy")
	require.NoError(t, err)
	assert.Equal(t, 25, roomAfter.Wallets[banker.ID])
	assert.Empty(t, roomAfter.RoundID)
	assert.Equal(t, 1, roomAfter.CompletedRounds)
}

func TestTopUpAndAdjustValidation(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 50, 1)
	p := players[0]

	_, _, err := s.TopUpBanker(ctx, room.ID, p.ID, 10, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = s.TopUpBanker(ctx, room.ID, banker.ID, 0, "")
	assert.ErrorIs(t, err, round.ErrInvalidBet)

	_, _, err = s.TopUpBanker(ctx, room.ID, banker.ID, -60, "")
	assert.ErrorIs(t, err, ErrInsufficientBank)

	after, _, err := s.TopUpBanker(ctx, room.ID, banker.ID, -20, "shrink")
	require.NoError(t, err)
	assert.Equal(t, 30, after.Wallets[banker.ID])

	_, err = s.AdjustPlayerWallet(ctx, room.ID, banker.ID, p.ID, -200, "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	adjusted, err := s.AdjustPlayerWallet(ctx, room.ID, banker.ID, p.ID, 40, "bonus")
	require.NoError(t, err)
	assert.Equal(t, DefaultBuyIn+40, adjusted.Wallets[p.ID])
}

func TestRenameRequestFlow(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 1)
	p := players[0]

	_, err := s.RequestRename(ctx, room.ID, banker.ID, "New", "Name")
	assert.ErrorIs(t, err, ErrForbidden)

	after, err := s.RequestRename(ctx, room.ID, p.ID, "  Renamed  ", "Player")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", after.RenameRequests[p.ID].FirstName)

	_, err = s.ResolveRename(ctx, room.ID, p.ID, p.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)

	after, err = s.ResolveRename(ctx, room.ID, banker.ID, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", after.Player(p.ID).FirstName)
	assert.Empty(t, after.RenameRequests)

	_, err = s.ResolveRename(ctx, room.ID, banker.ID, p.ID, true)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestRenameBlock(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 1)
	p := players[0]

	_, err := s.RequestRename(ctx, room.ID, p.ID, "New", "")
	require.NoError(t, err)

	after, err := s.SetRenameBlock(ctx, room.ID, banker.ID, p.ID, true)
	require.NoError(t, err)
	assert.Contains(t, after.RenameBlockedIDs, p.ID)
	assert.Empty(t, after.RenameRequests, "blocking clears the pending request")

	_, err = s.RequestRename(ctx, room.ID, p.ID, "Again", "")
	assert.ErrorIs(t, err, ErrRenameBlocked)

	after, err = s.SetRenameBlock(ctx, room.ID, banker.ID, p.ID, false)
	require.NoError(t, err)
	assert.NotContains(t, after.RenameBlockedIDs, p.ID)
}

func TestBuyInFlow(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	room, banker, players := setupTable(t, s, 100, 1)
	p := players[0]

	_, err := s.RequestBuyIn(ctx, room.ID, p.ID, 0, "")
	assert.ErrorIs(t, err, round.ErrInvalidBet)

	_, err = s.RequestBuyIn(ctx, room.ID, p.ID, 50, "ran dry")
	require.NoError(t, err)

	after, err := s.ResolveBuyIn(ctx, room.ID, banker.ID, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, DefaultBuyIn+50, after.Wallets[p.ID])

	_, err = s.RequestBuyIn(ctx, room.ID, p.ID, 30, "")
	require.NoError(t, err)
	after, err = s.ResolveBuyIn(ctx, room.ID, banker.ID, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultBuyIn+50, after.Wallets[p.ID], "reject leaves the wallet alone")

	_, err = s.SetBuyInBlock(ctx, room.ID, banker.ID, p.ID, true)
	require.NoError(t, err)
	_, err = s.RequestBuyIn(ctx, room.ID, p.ID, 10, "")
	assert.ErrorIs(t, err, ErrBuyInBlocked)
}

func TestTurnTimerAutoStands(t *testing.T) {
	s := newTestStore()
	s.SetTimeouts(40*time.Millisecond, time.Hour)
	ctx := context.Background()
	room, _, _ := setupTable(t, s, 100, 1)

	_, err := s.StartRound(ctx, room.ID, 0)
	require.NoError(t, err)

	// The lone player never acts: the timer stands them. A stakeless
	// stand is a push, so the round ends without waiting on the banker;
	// had it reached the banker, the banker is never auto-stood.
	require.Eventually(t, func() bool {
		got, err := s.GetRoom(ctx, room.ID)
		if err != nil {
			return false
		}
		if got.RoundID == "" {
			return true
		}
		rd, err := s.GetRound(ctx, got.RoundID)
		if err != nil {
			return false
		}
		b := rd.Banker()
		return b != nil && rd.ActivePlayerID() == b.Player.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInactivityTimerDeletesRoom(t *testing.T) {
	s := newTestStore()
	s.SetTimeouts(time.Hour, 30*time.Millisecond)
	ctx := context.Background()
	room, _, _, err := s.CreateRoom(ctx, CreateRoomParams{FirstName: "Dana"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.GetRoom(ctx, room.ID)
		return err == ErrRoomNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func roomPlayer(room *Room, id string) *round.Player {
	return room.Player(id)
}
