package room

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/rigidity/lobby-backend/internal/apperr"
	"github.com/rigidity/lobby-backend/internal/matchmaking"
	"github.com/rigidity/lobby-backend/pkg/types"
)

// Notifier delivers payloads to live connections by user id. Delivery is
// best-effort: the service never learns whether a recipient was reachable.
type Notifier interface {
	Send(userID int64, payload []byte)
	SendMany(userIDs []int64, payload []byte)
}

// RoomData is the caller-supplied shape for create and update.
type RoomData struct {
	Label             string `json:"label"`
	NbTeams           int    `json:"nb_teams"`
	MaxPlayersPerTeam int    `json:"max_players_per_team"`
	GameMode          string `json:"game_mode,omitempty"`
	Map               string `json:"map,omitempty"`
}

// Service owns the room/slot state machine. Every mutation runs inside one
// store transaction with the room row locked; external matchmaking calls
// happen between transactions so one room's round-trip never blocks another
// room's writes.
type Service struct {
	store  Store
	mm     matchmaking.Client
	notify Notifier
	log    *zap.Logger
}

func NewService(store Store, mm matchmaking.Client, notify Notifier, log *zap.Logger) *Service {
	return &Service{store: store, mm: mm, notify: notify, log: log.Named("room")}
}

func (s *Service) List(ctx context.Context) ([]types.RoomSnapshot, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.RoomSnapshot, 0, len(rooms))
	for _, rw := range rooms {
		out = append(out, *snapshotOf(&rw.Room, rw.Slots))
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, userID int64, data RoomData) (*types.RoomSnapshot, error) {
	mode, gmap, err := parseSelectors(data, DefaultGameMode, DefaultMap)
	if err != nil {
		return nil, err
	}
	if err := validateCapacity(data); err != nil {
		return nil, err
	}

	var snap *types.RoomSnapshot
	err = s.store.Transaction(ctx, func(tx Store) error {
		if _, err := tx.GetSlotByUser(ctx, userID); err == nil {
			return apperr.New(apperr.Conflict, "user already occupies a slot")
		} else if !apperr.IsCode(err, apperr.NotFound) {
			return err
		}

		r := &Room{
			Label:             data.Label,
			OwnerID:           userID,
			NbTeams:           data.NbTeams,
			MaxPlayersPerTeam: data.MaxPlayersPerTeam,
			CurrentGameMode:   mode,
			CurrentMap:        gmap,
		}
		if err := tx.CreateRoom(ctx, r); err != nil {
			return err
		}
		slot := &Slot{RoomID: r.ID, Team: 0, TeamPosition: 0, UserID: userID, CurrentArchetype: DefaultArchetype}
		if err := tx.CreateSlot(ctx, slot); err != nil {
			return err
		}
		snap = snapshotOf(r, []Slot{*slot})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("room created", zap.Int64("room_id", snap.ID), zap.Int64("owner_id", userID))
	s.pushRoom(types.MsgRoomUpdate, snap)
	return snap, nil
}

func (s *Service) Update(ctx context.Context, userID, roomID int64, data RoomData) (*types.RoomSnapshot, error) {
	if err := validateCapacity(data); err != nil {
		return nil, err
	}

	var snap *types.RoomSnapshot
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.OwnerID != userID {
			return apperr.New(apperr.Forbidden, "only the owner can update the room")
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}

		mode, gmap, err := parseSelectors(data, r.CurrentGameMode, r.CurrentMap)
		if err != nil {
			return err
		}

		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		for _, sl := range slots {
			if sl.Team >= data.NbTeams || sl.TeamPosition >= data.MaxPlayersPerTeam {
				return apperr.New(apperr.Conflict, "cannot shrink below occupied slots")
			}
		}

		r.Label = data.Label
		r.NbTeams = data.NbTeams
		r.MaxPlayersPerTeam = data.MaxPlayersPerTeam
		r.CurrentGameMode = mode
		r.CurrentMap = gmap
		if err := tx.UpdateRoom(ctx, r); err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pushRoom(types.MsgRoomUpdate, snap)
	return snap, nil
}

func (s *Service) Join(ctx context.Context, userID, roomID int64) (*types.RoomSnapshot, error) {
	var snap *types.RoomSnapshot
	err := s.store.Transaction(ctx, func(tx Store) error {
		if _, err := tx.GetSlotByUser(ctx, userID); err == nil {
			return apperr.New(apperr.Conflict, "user already occupies a slot")
		} else if !apperr.IsCode(err, apperr.NotFound) {
			return err
		}

		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		team, position, ok := firstFreeSlot(r, slots)
		if !ok {
			return apperr.New(apperr.Conflict, "room is full")
		}

		slot := &Slot{RoomID: roomID, Team: team, TeamPosition: position, UserID: userID, CurrentArchetype: DefaultArchetype}
		if err := tx.CreateSlot(ctx, slot); err != nil {
			return err
		}
		snap = snapshotOf(r, append(slots, *slot))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user joined room", zap.Int64("room_id", roomID), zap.Int64("user_id", userID))
	s.pushRoom(types.MsgRoomUpdate, snap)
	return snap, nil
}

func (s *Service) Quit(ctx context.Context, userID, roomID int64) error {
	var (
		deleted bool
		snap    *types.RoomSnapshot
		former  []int64
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}
		slot, err := tx.GetSlotByUser(ctx, userID)
		if err != nil || slot.RoomID != roomID {
			return apperr.New(apperr.NotFound, "no slot in this room")
		}

		if r.OwnerID == userID {
			slots, err := tx.GetRoomSlots(ctx, roomID)
			if err != nil {
				return err
			}
			former = occupantIDs(slots)
			deleted = true
			return tx.DeleteRoom(ctx, roomID)
		}

		if err := tx.DeleteSlot(ctx, slot.ID); err != nil {
			return err
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return err
	}

	if deleted {
		s.log.Info("room deleted by owner quit", zap.Int64("room_id", roomID))
		s.push(former, types.ServerMessage{Type: types.MsgRoomDeleted, RoomID: roomID})
		return nil
	}
	s.pushRoom(types.MsgRoomUpdate, snap)
	return nil
}

// DeleteOwn deletes the room the user owns, wherever they are.
func (s *Service) DeleteOwn(ctx context.Context, userID int64) error {
	var (
		roomID int64
		former []int64
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomByOwner(ctx, userID)
		if err != nil {
			return err
		}
		r, err = tx.GetRoomForUpdate(ctx, r.ID)
		if err != nil {
			return err
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}
		slots, err := tx.GetRoomSlots(ctx, r.ID)
		if err != nil {
			return err
		}
		roomID = r.ID
		former = occupantIDs(slots)
		return tx.DeleteRoom(ctx, r.ID)
	})
	if err != nil {
		return err
	}

	s.log.Info("room deleted", zap.Int64("room_id", roomID), zap.Int64("owner_id", userID))
	s.push(former, types.ServerMessage{Type: types.MsgRoomDeleted, RoomID: roomID})
	return nil
}

func (s *Service) SwitchSlot(ctx context.Context, userID, roomID int64, team, position int) (*types.RoomSnapshot, error) {
	var snap *types.RoomSnapshot
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}
		if !r.ValidSlot(team, position) {
			return apperr.Newf(apperr.Conflict, "slot (%d,%d) is out of bounds", team, position)
		}
		slot, err := tx.GetSlotByUser(ctx, userID)
		if err != nil || slot.RoomID != roomID {
			return apperr.New(apperr.NotFound, "no slot in this room")
		}

		if occ, err := tx.GetSlotByPosition(ctx, roomID, team, position); err == nil {
			if occ.UserID != userID {
				return apperr.New(apperr.Conflict, "slot position already taken")
			}
			// Moving onto its own coordinates is a no-op.
		} else if !apperr.IsCode(err, apperr.NotFound) {
			return err
		}

		slot.Team = team
		slot.TeamPosition = position
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pushRoom(types.MsgRoomUpdate, snap)
	return snap, nil
}

func (s *Service) SwitchArchetype(ctx context.Context, userID, roomID int64, archetype string) (*types.RoomSnapshot, error) {
	arch, err := ParseArchetype(archetype)
	if err != nil {
		return nil, err
	}

	var snap *types.RoomSnapshot
	err = s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}
		slot, err := tx.GetSlotByUser(ctx, userID)
		if err != nil || slot.RoomID != roomID {
			return apperr.New(apperr.NotFound, "no slot in this room")
		}

		slot.CurrentArchetype = arch
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pushRoom(types.MsgRoomUpdate, snap)
	return snap, nil
}

// Kick removes targetUserID's slot. Kicking the owner deletes the room; the
// disconnect path runs its own cleanup in HandleDisconnect.
func (s *Service) Kick(ctx context.Context, roomID, targetUserID, actingUserID int64) (*types.RoomSnapshot, error) {
	var (
		deleted bool
		snap    *types.RoomSnapshot
		former  []int64
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if actingUserID != r.OwnerID {
			return apperr.New(apperr.Forbidden, "only the owner can kick")
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is searching")
		}
		slot, err := tx.GetSlotByUser(ctx, targetUserID)
		if err != nil || slot.RoomID != roomID {
			return apperr.New(apperr.NotFound, "no slot in this room")
		}

		if r.OwnerID == targetUserID {
			slots, err := tx.GetRoomSlots(ctx, roomID)
			if err != nil {
				return err
			}
			former = occupantIDs(slots)
			deleted = true
			return tx.DeleteRoom(ctx, roomID)
		}

		if err := tx.DeleteSlot(ctx, slot.ID); err != nil {
			return err
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deleted {
		s.log.Info("room deleted by owner removal", zap.Int64("room_id", roomID))
		s.push(former, types.ServerMessage{Type: types.MsgRoomDeleted, RoomID: roomID})
		return nil, nil
	}
	s.push([]int64{targetUserID}, types.ServerMessage{Type: types.MsgKicked, RoomID: roomID})
	s.pushRoom(types.MsgRoomUpdate, snap)
	return snap, nil
}

// StartMatchmaking validates and builds the roster under the room lock,
// releases it for the external call, then persists the ticket in a second
// transaction that re-validates. Losing the re-validation cancels the
// just-created ticket best-effort and reports Conflict.
func (s *Service) StartMatchmaking(ctx context.Context, userID, roomID int64) (*types.RoomSnapshot, error) {
	var (
		roster        []matchmaking.Player
		configuration string
		rosterIDs     []int64
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.OwnerID != userID {
			return apperr.New(apperr.Forbidden, "only the owner can start matchmaking")
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is already searching")
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		if len(slots) < r.Capacity() {
			return apperr.Newf(apperr.Conflict, "room is not full (%d/%d)", len(slots), r.Capacity())
		}

		roster = make([]matchmaking.Player, 0, len(slots))
		for _, sl := range slots {
			u, err := tx.GetUser(ctx, sl.UserID)
			if err != nil {
				return err
			}
			roster = append(roster, matchmaking.Player{
				PlayerID: strconv.FormatInt(sl.UserID, 10),
				Team:     strconv.Itoa(sl.Team),
				Attributes: map[string]any{
					"team":          sl.Team,
					"team_position": sl.TeamPosition,
					"archetype":     string(sl.CurrentArchetype),
					"nickname":      u.Nickname,
				},
			})
		}
		rosterIDs = occupantIDs(slots)
		slices.Sort(rosterIDs)
		configuration = string(r.CurrentMap)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ticketID, err := s.mm.StartSearch(ctx, roster, configuration)
	if err != nil {
		return nil, err
	}

	var snap *types.RoomSnapshot
	err = s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.Searching() {
			return apperr.New(apperr.Conflict, "room is already searching")
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		// The submitted roster must still be exactly the room's occupants;
		// a same-size membership swap or a capacity change is a Conflict.
		ids := occupantIDs(slots)
		slices.Sort(ids)
		if len(slots) < r.Capacity() || !slices.Equal(ids, rosterIDs) {
			return apperr.New(apperr.Conflict, "room membership changed during matchmaking start")
		}
		if err := tx.UpdateTicket(ctx, roomID, &ticketID); err != nil {
			return err
		}
		r.MatchmakingTicket = &ticketID
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		s.cancelTicket(ctx, ticketID)
		return nil, err
	}

	s.log.Info("matchmaking started", zap.Int64("room_id", roomID), zap.String("ticket_id", ticketID))
	s.pushRoom(types.MsgSearchStarted, snap)
	return snap, nil
}

func (s *Service) StopMatchmaking(ctx context.Context, userID, roomID int64) (*types.RoomSnapshot, error) {
	var (
		ticketID string
		snap     *types.RoomSnapshot
	)
	err := s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		if r.OwnerID != userID {
			return apperr.New(apperr.Forbidden, "only the owner can stop matchmaking")
		}
		if !r.Searching() {
			return apperr.New(apperr.NotFound, "room is not searching")
		}
		ticketID = *r.MatchmakingTicket
		if err := tx.UpdateTicket(ctx, roomID, nil); err != nil {
			return err
		}
		r.MatchmakingTicket = nil
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Cancellation is best-effort: a stale ticket on the backend is safer
	// than a room stuck in Searching.
	s.cancelTicket(ctx, ticketID)
	s.log.Info("matchmaking stopped", zap.Int64("room_id", roomID), zap.String("ticket_id", ticketID))
	s.pushRoom(types.MsgSearchStopped, snap)
	return snap, nil
}

// HandleDisconnect is the registry-triggered cleanup: a dropped connection is
// treated as a system kick. If the room was searching, the now-incomplete
// search is cancelled along the way.
func (s *Service) HandleDisconnect(ctx context.Context, userID int64) error {
	slot, err := s.store.GetSlotByUser(ctx, userID)
	if apperr.IsCode(err, apperr.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	roomID := slot.RoomID

	var (
		deleted  bool
		ticketID string
		snap     *types.RoomSnapshot
		former   []int64
	)
	err = s.store.Transaction(ctx, func(tx Store) error {
		r, err := tx.GetRoomForUpdate(ctx, roomID)
		if err != nil {
			if apperr.IsCode(err, apperr.NotFound) {
				return nil // room vanished meanwhile
			}
			return err
		}
		slot, err := tx.GetSlotByUser(ctx, userID)
		if err != nil || slot.RoomID != roomID {
			return nil
		}
		if r.Searching() {
			ticketID = *r.MatchmakingTicket
		}

		if r.OwnerID == userID {
			slots, err := tx.GetRoomSlots(ctx, roomID)
			if err != nil {
				return err
			}
			former = occupantIDs(slots)
			deleted = true
			return tx.DeleteRoom(ctx, roomID)
		}

		if err := tx.DeleteSlot(ctx, slot.ID); err != nil {
			return err
		}
		if ticketID != "" {
			if err := tx.UpdateTicket(ctx, roomID, nil); err != nil {
				return err
			}
			r.MatchmakingTicket = nil
		}
		slots, err := tx.GetRoomSlots(ctx, roomID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return err
	}

	if ticketID != "" {
		s.cancelTicket(ctx, ticketID)
	}
	s.log.Info("disconnect cleanup", zap.Int64("user_id", userID), zap.Int64("room_id", roomID), zap.Bool("room_deleted", deleted))
	if deleted {
		s.push(former, types.ServerMessage{Type: types.MsgRoomDeleted, RoomID: roomID})
	} else if snap != nil {
		s.pushRoom(types.MsgRoomUpdate, snap)
	}
	return nil
}

// HandleMatchEvent bridges the backend's async outcome into room state. An
// unknown ticket is a logged no-op: the room may already have stopped or
// been deleted.
func (s *Service) HandleMatchEvent(ctx context.Context, ev matchmaking.Event) error {
	found, err := s.store.GetRoomByTicket(ctx, ev.TicketID)
	if apperr.IsCode(err, apperr.NotFound) {
		s.log.Info("match event for unknown ticket", zap.String("ticket_id", ev.TicketID))
		return nil
	}
	if err != nil {
		return err
	}

	var (
		r    *Room
		snap *types.RoomSnapshot
	)
	err = s.store.Transaction(ctx, func(tx Store) error {
		// Re-check under the room lock: a stop or stop+restart may have
		// landed since the by-ticket lookup, and a stale event must not
		// touch the newer ticket.
		r, err = tx.GetRoomForUpdate(ctx, found.ID)
		if err != nil {
			if apperr.IsCode(err, apperr.NotFound) {
				r = nil
				return nil
			}
			return err
		}
		if r.MatchmakingTicket == nil || *r.MatchmakingTicket != ev.TicketID {
			r = nil
			return nil
		}
		if err := tx.UpdateTicket(ctx, r.ID, nil); err != nil {
			return err
		}
		r.MatchmakingTicket = nil
		slots, err := tx.GetRoomSlots(ctx, r.ID)
		if err != nil {
			return err
		}
		snap = snapshotOf(r, slots)
		return nil
	})
	if err != nil {
		return err
	}
	if r == nil {
		s.log.Info("match event for superseded ticket", zap.String("ticket_id", ev.TicketID))
		return nil
	}

	if ev.Succeeded() {
		s.log.Info("match found", zap.Int64("room_id", r.ID), zap.String("ticket_id", ev.TicketID))
		s.push(occupantsOf(snap), types.ServerMessage{Type: types.MsgMatchFound, Room: snap, Match: ev.Match})
	} else {
		s.log.Info("search ended without match",
			zap.Int64("room_id", r.ID),
			zap.String("ticket_id", ev.TicketID),
			zap.String("reason", string(ev.Type)))
		s.pushRoom(types.MsgSearchFailed, snap)
	}
	return nil
}

func (s *Service) cancelTicket(ctx context.Context, ticketID string) {
	if err := s.mm.CancelSearch(ctx, ticketID); err != nil {
		s.log.Warn("ticket cancellation failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *Service) pushRoom(msgType string, snap *types.RoomSnapshot) {
	s.push(occupantsOf(snap), types.ServerMessage{Type: msgType, Room: snap})
}

func (s *Service) push(userIDs []int64, msg types.ServerMessage) {
	if len(userIDs) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encoding notification", zap.Error(err))
		return
	}
	s.notify.SendMany(userIDs, payload)
}

func snapshotOf(r *Room, slots []Slot) *types.RoomSnapshot {
	out := &types.RoomSnapshot{
		ID:                r.ID,
		Label:             r.Label,
		OwnerID:           r.OwnerID,
		NbTeams:           r.NbTeams,
		MaxPlayersPerTeam: r.MaxPlayersPerTeam,
		CurrentGameMode:   string(r.CurrentGameMode),
		CurrentMap:        string(r.CurrentMap),
		Searching:         r.Searching(),
		Slots:             make([]types.SlotSnapshot, 0, len(slots)),
	}
	for _, sl := range slots {
		out.Slots = append(out.Slots, types.SlotSnapshot{
			Team:         sl.Team,
			TeamPosition: sl.TeamPosition,
			UserID:       sl.UserID,
			Archetype:    string(sl.CurrentArchetype),
		})
	}
	return out
}

func occupantIDs(slots []Slot) []int64 {
	ids := make([]int64, 0, len(slots))
	for _, sl := range slots {
		ids = append(ids, sl.UserID)
	}
	return ids
}

func occupantsOf(snap *types.RoomSnapshot) []int64 {
	ids := make([]int64, 0, len(snap.Slots))
	for _, sl := range snap.Slots {
		ids = append(ids, sl.UserID)
	}
	return ids
}

func parseSelectors(data RoomData, mode GameMode, gmap GameMap) (GameMode, GameMap, error) {
	if data.GameMode != "" {
		m, err := ParseGameMode(data.GameMode)
		if err != nil {
			return "", "", err
		}
		mode = m
	}
	if data.Map != "" {
		m, err := ParseGameMap(data.Map)
		if err != nil {
			return "", "", err
		}
		gmap = m
	}
	return mode, gmap, nil
}

func validateCapacity(data RoomData) error {
	if data.NbTeams < 1 || data.MaxPlayersPerTeam < 1 {
		return apperr.New(apperr.Conflict, "team count and players per team must be at least 1")
	}
	return nil
}
