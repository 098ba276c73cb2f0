package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Wbbdlr/kvitlach/internal/audit"
	"github.com/Wbbdlr/kvitlach/internal/game/round"
	"github.com/Wbbdlr/kvitlach/internal/game/store"
)

var (
	errInvalidJSON    = errors.New("invalid_json")
	errInvalidPayload = errors.New("invalid_payload")
	errUnknownType    = errors.New("unknown_type")
)

// Dispatcher routes client envelopes into the store and fans state
// changes back out. It installs itself as the store's listener, so
// every committed mutation broadcasts before the acting client's ack
// is queued.
type Dispatcher struct {
	store  *store.Store
	hub    *Hub
	audit  audit.Recorder
	logger *log.Logger
}

func NewDispatcher(st *store.Store, hub *Hub, sink audit.Recorder, logger *log.Logger) *Dispatcher {
	d := &Dispatcher{store: st, hub: hub, audit: sink, logger: logger}

	st.OnRoomUpdate = func(room *store.Room) {
		hub.BroadcastRoom(room.ID, ServerMessage{Type: "room:state", RoomID: room.ID, Payload: room})
	}
	st.OnRoundUpdate = func(roomID string, rd *round.Round) {
		hub.BroadcastRoom(roomID, ServerMessage{Type: "round:state", RoomID: roomID, Payload: rd})
	}
	st.OnRoundEnded = func(roomID string, rd *round.Round, balances []round.BalanceEntry) {
		hub.BroadcastRoom(roomID, ServerMessage{Type: "round:ended", RoomID: roomID, Payload: map[string]any{
			"balances": balances,
			"round":    rd,
		}})
	}
	st.OnRoomDeleted = hub.DropRoom
	hub.OnDisconnect = d.handleDisconnect
	return d
}

func (d *Dispatcher) ack(c *Client, requestID string, payload any) {
	d.hub.SendTo(c, ServerMessage{Type: "ack", RequestID: requestID, Payload: payload})
}

func (d *Dispatcher) sendErr(c *Client, requestID string, err error) {
	d.hub.SendTo(c, ServerMessage{Type: "error", RequestID: requestID, Error: &ErrorBody{Message: err.Error()}})
}

// Handle processes one frame. It runs on the socket's read goroutine,
// so per-socket command order is preserved end to end.
func (d *Dispatcher) Handle(c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		d.sendErr(c, "", errInvalidJSON)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "type", env.Type, "err", r, "stack", string(debug.Stack()))
			d.sendErr(c, env.RequestID, fmt.Errorf("%v", r))
		}
	}()

	if id := c.auditID(); id != "" {
		d.audit.Seen(id, time.Now())
	}

	if err := d.dispatch(c, env); err != nil {
		d.sendErr(c, env.RequestID, err)
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errInvalidPayload
	}
	return v, nil
}

func (d *Dispatcher) dispatch(c *Client, env Envelope) error {
	ctx := context.Background()
	roomID, playerID := c.Identity()

	switch env.Type {

	case "room:create":
		p, err := decode[struct {
			FirstName      string `json:"firstName"`
			LastName       string `json:"lastName"`
			RoomName       string `json:"roomName"`
			Password       string `json:"password"`
			BuyIn          int    `json:"buyIn"`
			RoomID         string `json:"roomId"`
			BankerBankroll *int   `json:"bankerBankroll"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.FirstName == "" {
			return errInvalidPayload
		}
		room, player, sess, err := d.store.CreateRoom(ctx, store.CreateRoomParams{
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			RoomName:       p.RoomName,
			Password:       p.Password,
			RoomID:         p.RoomID,
			BuyIn:          p.BuyIn,
			BankerBankroll: p.BankerBankroll,
		})
		if err != nil {
			return err
		}
		d.bind(c, room.ID, player.ID)
		d.ack(c, env.RequestID, map[string]any{"room": room, "player": player, "session": sess})
		return nil

	case "room:join":
		p, err := decode[struct {
			RoomID    string `json:"roomId"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
			Password  string `json:"password"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoomID == "" || p.FirstName == "" {
			return errInvalidPayload
		}
		room, player, sess, err := d.store.JoinRoom(ctx, p.RoomID, store.JoinParams{
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Password:  p.Password,
		})
		if err != nil {
			return err
		}
		d.bind(c, room.ID, player.ID)
		d.ack(c, env.RequestID, map[string]any{"room": room, "player": player, "session": sess})
		d.pushConnections(room.ID)
		return nil

	case "room:resume":
		p, err := decode[struct {
			RoomID   string `json:"roomId"`
			PlayerID string `json:"playerId"`
			Token    string `json:"token"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoomID == "" || p.PlayerID == "" || p.Token == "" {
			return errInvalidPayload
		}
		room, rd, player, sess, err := d.store.ResumePlayer(ctx, p.RoomID, p.PlayerID, p.Token)
		if err != nil {
			return err
		}
		d.bind(c, room.ID, player.ID)
		payload := map[string]any{"room": room, "player": player, "session": sess}
		if rd != nil {
			payload["round"] = rd
		}
		d.ack(c, env.RequestID, payload)
		d.pushConnections(room.ID)
		return nil

	case "room:get":
		p, err := decode[struct {
			RoomID string `json:"roomId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		id := p.RoomID
		if id == "" {
			id = roomID
		}
		room, err := d.store.GetRoom(ctx, id)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "room:switch-admin":
		p, err := decode[struct {
			TargetPlayerID string `json:"targetPlayerId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.TargetPlayerID == "" {
			return errInvalidPayload
		}
		room, err := d.store.SwitchAdmin(ctx, roomID, playerID, p.TargetPlayerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "round:start":
		p, err := decode[struct {
			RoomID    string `json:"roomId"`
			DeckCount int    `json:"deckCount"`
		}](env.Payload)
		if err != nil {
			return err
		}
		id := p.RoomID
		if id == "" {
			id = roomID
		}
		rd, err := d.store.StartRound(ctx, id, p.DeckCount)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"round": rd})
		return nil

	case "round:get":
		p, err := decode[struct {
			RoundID string `json:"roundId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoundID == "" {
			return errInvalidPayload
		}
		rd, err := d.store.GetRound(ctx, p.RoundID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"round": rd})
		return nil

	case "round:banker-end":
		room, rd, err := d.store.EndRoundAfterBankDecision(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		d.hub.BroadcastRoom(roomID, ServerMessage{Type: "round:banker-ended", RoomID: roomID, Payload: map[string]any{"round": rd}})
		d.ack(c, env.RequestID, map[string]any{"room": room, "round": rd})
		return nil

	case "turn:bet":
		p, err := decode[struct {
			RoundID  string `json:"roundId"`
			Amount   int    `json:"amount"`
			PlayerID string `json:"playerId"`
			Bank     bool   `json:"bank"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoundID == "" {
			return errInvalidPayload
		}
		if p.PlayerID != "" && p.PlayerID != playerID {
			return store.ErrForbidden
		}
		rd, err := d.store.ApplyBet(ctx, p.RoundID, playerID, p.Amount, p.Bank)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"round": rd})
		return nil

	case "turn:hit":
		p, err := decode[struct {
			RoundID   string `json:"roundId"`
			PlayerID  string `json:"playerId"`
			Eleveroon bool   `json:"eleveroon"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoundID == "" {
			return errInvalidPayload
		}
		if p.PlayerID != "" && p.PlayerID != playerID {
			return store.ErrForbidden
		}
		rd, err := d.store.ApplyHit(ctx, p.RoundID, playerID, p.Eleveroon)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"round": rd})
		return nil

	case "turn:stand":
		p, err := decode[struct {
			RoundID  string `json:"roundId"`
			PlayerID string `json:"playerId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoundID == "" {
			return errInvalidPayload
		}
		if p.PlayerID != "" && p.PlayerID != playerID {
			return store.ErrForbidden
		}
		rd, err := d.store.ApplyStand(ctx, p.RoundID, playerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"round": rd})
		return nil

	case "turn:skip":
		p, err := decode[struct {
			RoundID  string `json:"roundId"`
			PlayerID string `json:"playerId"`
			ActorID  string `json:"actorId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.RoundID == "" {
			return errInvalidPayload
		}
		target := p.PlayerID
		if target == "" {
			target = playerID
		}
		rd, err := d.store.ApplySkip(ctx, p.RoundID, target, playerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"round": rd})
		return nil

	case "room:leave":
		room, err := d.store.LeaveRoom(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:rename-request":
		p, err := decode[struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.FirstName == "" {
			return errInvalidPayload
		}
		room, err := d.store.RequestRename(ctx, roomID, playerID, p.FirstName, p.LastName)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:rename-cancel":
		room, err := d.store.CancelRename(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:rename-approve", "player:rename-reject":
		p, err := decode[struct {
			PlayerID string `json:"playerId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.PlayerID == "" {
			return errInvalidPayload
		}
		room, err := d.store.ResolveRename(ctx, roomID, playerID, p.PlayerID, env.Type == "player:rename-approve")
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:rename-block":
		p, err := decode[struct {
			PlayerID string `json:"playerId"`
			Block    bool   `json:"block"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.PlayerID == "" {
			return errInvalidPayload
		}
		room, err := d.store.SetRenameBlock(ctx, roomID, playerID, p.PlayerID, p.Block)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:buyin-request":
		p, err := decode[struct {
			Amount int    `json:"amount"`
			Note   string `json:"note"`
		}](env.Payload)
		if err != nil {
			return err
		}
		room, err := d.store.RequestBuyIn(ctx, roomID, playerID, p.Amount, p.Note)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:buyin-cancel":
		room, err := d.store.CancelBuyIn(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:buyin-approve", "player:buyin-reject":
		p, err := decode[struct {
			PlayerID string `json:"playerId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.PlayerID == "" {
			return errInvalidPayload
		}
		room, err := d.store.ResolveBuyIn(ctx, roomID, playerID, p.PlayerID, env.Type == "player:buyin-approve")
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:buyin-block":
		p, err := decode[struct {
			PlayerID string `json:"playerId"`
			Block    bool   `json:"block"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.PlayerID == "" {
			return errInvalidPayload
		}
		room, err := d.store.SetBuyInBlock(ctx, roomID, playerID, p.PlayerID, p.Block)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:kick":
		p, err := decode[struct {
			PlayerID string `json:"playerId"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.PlayerID == "" {
			return errInvalidPayload
		}
		room, _, err := d.store.KickPlayer(ctx, roomID, playerID, p.PlayerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"room": room})
		return nil

	case "player:bank-adjust":
		p, err := decode[struct {
			PlayerID string `json:"playerId"`
			Amount   int    `json:"amount"`
			Note     string `json:"note"`
		}](env.Payload)
		if err != nil {
			return err
		}
		if p.PlayerID == "" {
			return errInvalidPayload
		}
		room, err := d.store.AdjustPlayerWallet(ctx, roomID, playerID, p.PlayerID, p.Amount, p.Note)
		if err != nil {
			return err
		}
		d.hub.BroadcastRoom(roomID, ServerMessage{Type: "player:bank-adjusted", RoomID: roomID, PlayerID: p.PlayerID, Payload: map[string]any{
			"playerId": p.PlayerID,
			"amount":   p.Amount,
		}})
		d.ack(c, env.RequestID, map[string]any{"room": room, "adjust": p.Amount})
		return nil

	case "room:banker-topup":
		p, err := decode[struct {
			Amount int    `json:"amount"`
			Note   string `json:"note"`
		}](env.Payload)
		if err != nil {
			return err
		}
		room, rd, err := d.store.TopUpBanker(ctx, roomID, playerID, p.Amount, p.Note)
		if err != nil {
			return err
		}
		d.hub.BroadcastRoom(roomID, ServerMessage{Type: "room:banker-topup", RoomID: roomID, Payload: map[string]any{
			"amount": p.Amount,
		}})
		payload := map[string]any{"room": room, "topUp": p.Amount}
		if rd != nil {
			payload["round"] = rd
		}
		d.ack(c, env.RequestID, payload)
		return nil

	case "room:connections":
		conns, err := d.store.Connections(ctx, roomID, playerID)
		if err != nil {
			return err
		}
		d.ack(c, env.RequestID, map[string]any{"connections": conns})
		return nil

	default:
		return errUnknownType
	}
}

// bind attaches the socket to its seat and opens an audit row.
func (d *Dispatcher) bind(c *Client, roomID, playerID string) {
	d.hub.Bind(c, roomID, playerID)
	if d.audit.Enabled() {
		id := uuid.NewString()
		d.audit.Connect(audit.Connection{
			ID:          id,
			RoomID:      roomID,
			PlayerID:    playerID,
			IP:          c.IP,
			UserAgent:   c.UserAgent,
			ConnectedAt: time.Now(),
			LastSeenAt:  time.Now(),
		})
		c.setAuditID(id)
	}
}

// handleDisconnect flips the player offline once their last socket is
// gone. It runs on the hub queue goroutine.
func (d *Dispatcher) handleDisconnect(c *Client) {
	roomID, playerID := c.Identity()
	if id := c.auditID(); id != "" {
		d.audit.Disconnect(id, time.Now())
	}
	if roomID == "" || playerID == "" {
		return
	}
	if d.hub.PlayerConnCount(roomID, playerID) > 0 {
		return
	}
	if _, err := d.store.SetPresence(context.Background(), roomID, playerID, round.Offline); err != nil &&
		!errors.Is(err, store.ErrRoomNotFound) && !errors.Is(err, store.ErrPlayerNotFound) {
		d.logger.Error("presence update failed", "room", roomID, "player", playerID, "err", err)
	}
	d.pushConnections(roomID)
}

// pushConnections sends the banker the latest connection summary.
func (d *Dispatcher) pushConnections(roomID string) {
	if !d.audit.Enabled() {
		return
	}
	room, err := d.store.GetRoom(context.Background(), roomID)
	if err != nil {
		return
	}
	banker := room.Banker()
	if banker == nil {
		return
	}
	conns, err := d.audit.LatestConnections(context.Background(), roomID)
	if err != nil {
		d.logger.Error("connection summary failed", "room", roomID, "err", err)
		return
	}
	d.hub.SendToPlayer(roomID, banker.ID, ServerMessage{Type: "room:connections", RoomID: roomID, Payload: map[string]any{
		"connections": conns,
	}})
}
