package store

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Wbbdlr/kvitlach/internal/audit"
	"github.com/Wbbdlr/kvitlach/internal/game/round"
	"github.com/Wbbdlr/kvitlach/internal/session"
)

var (
	ErrRoomNotFound      = errors.New("room_not_found")
	ErrInvalidPassword   = errors.New("invalid_password")
	ErrPlayerNotFound    = errors.New("player_not_found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTarget     = errors.New("invalid_target")
	ErrInvalidBankroll   = errors.New("invalid_bankroll")
	ErrInvalidBankAmount = errors.New("invalid_bank_amount")
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInsufficientBank  = errors.New("insufficient_bank")
	ErrBankEmpty         = errors.New("bank_empty")
	ErrBankLocked        = errors.New("bank_locked")
	ErrBankerDeciding    = errors.New("banker_deciding")
	ErrBankNotInDecision = errors.New("bank_not_in_decision")
	ErrRoundNotFound     = errors.New("round_not_found")
	ErrRenameBlocked     = errors.New("rename_blocked")
	ErrBuyInBlocked      = errors.New("buyin_blocked")
	ErrRequestNotFound   = errors.New("request_not_found")
	ErrNotEnoughPlayers  = errors.New("not_enough_players")
	ErrRoomIDTaken       = errors.New("Game ID taken")
	ErrRoomIDInvalid     = errors.New("Game ID invalid")
)

const (
	DefaultBuyIn    = 100
	TurnTimeout     = 90 * time.Second
	IdleTimeout     = 30 * time.Minute
	maxNameLen      = 40
	maxRoomNameLen  = 80
	maxNoteLen      = 160
	roomCodeLen     = 6
	roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var roomIDPattern = regexp.MustCompile(`^[A-Z0-9-]{4,20}$`)

// RenameRequest is a pending name change awaiting banker approval.
type RenameRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// BuyInRequest is a pending wallet credit awaiting banker approval.
type BuyInRequest struct {
	Amount int    `json:"amount"`
	Note   string `json:"note,omitempty"`
}

// Room is the authoritative per-table state. The ledger is newest
// first; waiting players are seated at the next round start.
type Room struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Password           string                   `json:"-"`
	DefaultBuyIn       int                      `json:"defaultBuyIn"`
	BankerBuyIn        int                      `json:"bankerBuyIn"`
	Wallets            map[string]int           `json:"wallets"`
	Players            []round.Player           `json:"players"`
	RoundID            string                   `json:"roundId,omitempty"`
	BalanceLedger      []round.BalanceEntry     `json:"balanceLedger"`
	CompletedRounds    int                      `json:"completedRounds"`
	RenameRequests     map[string]RenameRequest `json:"renameRequests"`
	BuyInRequests      map[string]BuyInRequest  `json:"buyInRequests"`
	WaitingPlayerIDs   []string                 `json:"waitingPlayerIds"`
	RenameBlockedIDs   []string                 `json:"renameBlockedIds"`
	BuyInBlockedIDs    []string                 `json:"buyInBlockedIds"`
	SeatRotationCursor int                      `json:"seatRotationCursor"`
}

// Player returns the room player by id, or nil.
func (r *Room) Player(playerID string) *round.Player {
	for i := range r.Players {
		if r.Players[i].ID == playerID {
			return &r.Players[i]
		}
	}
	return nil
}

// Banker returns the room's banker, or nil.
func (r *Room) Banker() *round.Player {
	for i := range r.Players {
		if r.Players[i].Role == round.RoleBanker {
			return &r.Players[i]
		}
	}
	return nil
}

type roomEntry struct {
	mu        sync.Mutex
	deleted   bool
	room      *Room
	round     *round.Round
	lastEnded *round.Round
	turnTimer *time.Timer
	turnKey   string
	idleTimer *time.Timer
}

// Store owns every room, round, wallet and session binding. Every
// mutation of a room runs under that room's lock; the listener
// callbacks fire inside the critical section, after the mutation,
// and must not call back into the store.
type Store struct {
	mu         sync.RWMutex
	rooms      map[string]*roomEntry
	roundIndex map[string]string

	sessions *session.Manager
	audit    audit.Recorder
	logger   *log.Logger

	turnTimeout time.Duration
	idleTimeout time.Duration

	OnRoomUpdate  func(room *Room)
	OnRoundUpdate func(roomID string, rd *round.Round)
	OnRoundEnded  func(roomID string, rd *round.Round, balances []round.BalanceEntry)
	OnRoomDeleted func(roomID string)
}

func New(sessions *session.Manager, sink audit.Recorder, logger *log.Logger) *Store {
	return &Store{
		rooms:       make(map[string]*roomEntry),
		roundIndex:  make(map[string]string),
		sessions:    sessions,
		audit:       sink,
		logger:      logger,
		turnTimeout: TurnTimeout,
		idleTimeout: IdleTimeout,
	}
}

// SetTimeouts overrides the turn and inactivity windows, for tests.
func (s *Store) SetTimeouts(turn, idle time.Duration) {
	s.turnTimeout = turn
	s.idleTimeout = idle
}

func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func (s *Store) entry(roomID string) *roomEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[normalizeRoomID(roomID)]
}

// withRoom runs fn under the room's critical section. A nil error
// resets the room's inactivity window.
func (s *Store) withRoom(roomID string, fn func(e *roomEntry) error) error {
	e := s.entry(roomID)
	if e == nil {
		return ErrRoomNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrRoomNotFound
	}
	err := fn(e)
	if err == nil {
		s.touch(e)
	}
	return err
}

// viewRoom is withRoom for reads: it does not reset the inactivity
// window.
func (s *Store) viewRoom(roomID string, fn func(e *roomEntry) error) error {
	e := s.entry(roomID)
	if e == nil {
		return ErrRoomNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrRoomNotFound
	}
	return fn(e)
}

// withRound resolves a round id to its room and runs fn with the
// active round.
func (s *Store) withRound(roundID string, fn func(e *roomEntry) error) error {
	s.mu.RLock()
	roomID, ok := s.roundIndex[roundID]
	s.mu.RUnlock()
	if !ok {
		return ErrRoundNotFound
	}
	return s.withRoom(roomID, func(e *roomEntry) error {
		if e.round == nil || e.round.ID != roundID {
			return ErrRoundNotFound
		}
		return fn(e)
	})
}

func sanitize(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max])
	}
	return s
}

func sanitizeName(s string) string     { return sanitize(s, maxNameLen) }
func sanitizeRoomName(s string) string { return sanitize(s, maxRoomNameLen) }
func sanitizeNote(s string) string     { return sanitize(s, maxNoteLen) }

// newRoomCode draws a 6-character code from the platform RNG. The
// caller retries on collision.
func newRoomCode() string {
	b := make([]byte, roomCodeLen)
	if _, err := crand.Read(b); err != nil {
		panic(fmt.Sprintf("rng unavailable: %v", err))
	}
	for i := range b {
		b[i] = roomCodeCharset[int(b[i])%len(roomCodeCharset)]
	}
	return string(b)
}

// emit helpers: snapshots decouple the broadcast payload from further
// mutation once the lock is released.

func (s *Store) emitRoom(e *roomEntry) {
	if s.OnRoomUpdate != nil {
		s.OnRoomUpdate(e.room.snapshot())
	}
}

func (s *Store) emitRound(e *roomEntry) {
	if s.OnRoundUpdate != nil && e.round != nil {
		s.OnRoundUpdate(e.room.ID, snapshotRound(e.round))
	}
}

func (r *Room) snapshot() *Room {
	cp := *r
	cp.Wallets = make(map[string]int, len(r.Wallets))
	for k, v := range r.Wallets {
		cp.Wallets[k] = v
	}
	cp.Players = append([]round.Player(nil), r.Players...)
	cp.BalanceLedger = append([]round.BalanceEntry(nil), r.BalanceLedger...)
	cp.RenameRequests = make(map[string]RenameRequest, len(r.RenameRequests))
	for k, v := range r.RenameRequests {
		cp.RenameRequests[k] = v
	}
	cp.BuyInRequests = make(map[string]BuyInRequest, len(r.BuyInRequests))
	for k, v := range r.BuyInRequests {
		cp.BuyInRequests[k] = v
	}
	cp.WaitingPlayerIDs = append([]string(nil), r.WaitingPlayerIDs...)
	cp.RenameBlockedIDs = append([]string(nil), r.RenameBlockedIDs...)
	cp.BuyInBlockedIDs = append([]string(nil), r.BuyInBlockedIDs...)
	return &cp
}

// snapshotRound copies the round for broadcast; the remaining shoe
// never leaves the store.
func snapshotRound(rd *round.Round) *round.Round {
	cp := *rd
	cp.Deck = nil
	cp.Turns = append([]round.Turn(nil), rd.Turns...)
	if rd.BankLock != nil {
		l := *rd.BankLock
		cp.BankLock = &l
	}
	if rd.TurnTimer != nil {
		t := *rd.TurnTimer
		cp.TurnTimer = &t
	}
	return &cp
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
