package room

import (
	"context"
	"slices"
	"sync"

	"github.com/rigidity/lobby-backend/internal/apperr"
)

// MemoryStore keeps everything in process memory. Transactions take the one
// store mutex for their whole validate-then-write span, which gives the same
// per-room serialization the Postgres store gets from row locks; rollback is
// a snapshot restore. Used by tests and the memory storage mode.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	rooms      map[int64]Room
	slots      map[int64]Slot
	users      map[int64]User
	nextRoomID int64
	nextSlotID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		rooms:      make(map[int64]Room),
		slots:      make(map[int64]Slot),
		users:      make(map[int64]User),
		nextRoomID: 1,
		nextSlotID: 1,
	}}
}

// PutUser seeds a user row. The users table is owned by the auth service in
// the Postgres deployment, so seeding only exists here.
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

func (st memState) clone() memState {
	c := memState{
		rooms:      make(map[int64]Room, len(st.rooms)),
		slots:      make(map[int64]Slot, len(st.slots)),
		users:      st.users,
		nextRoomID: st.nextRoomID,
		nextSlotID: st.nextSlotID,
	}
	for id, r := range st.rooms {
		if r.MatchmakingTicket != nil {
			t := *r.MatchmakingTicket
			r.MatchmakingTicket = &t
		}
		c.rooms[id] = r
	}
	for id, sl := range st.slots {
		c.slots[id] = sl
	}
	return c
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(&memTx{state: &s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) view() *memTx { return &memTx{state: &s.state} }

func (s *MemoryStore) GetRoom(ctx context.Context, id int64) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRoom(ctx, id)
}

func (s *MemoryStore) GetRoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRoomForUpdate(ctx, id)
}

func (s *MemoryStore) GetRoomWithSlots(ctx context.Context, id int64) (*Room, []Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRoomWithSlots(ctx, id)
}

func (s *MemoryStore) GetRoomByOwner(ctx context.Context, userID int64) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRoomByOwner(ctx, userID)
}

func (s *MemoryStore) GetRoomByTicket(ctx context.Context, ticketID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRoomByTicket(ctx, ticketID)
}

func (s *MemoryStore) GetRoomSlots(ctx context.Context, roomID int64) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRoomSlots(ctx, roomID)
}

func (s *MemoryStore) GetSlotByPosition(ctx context.Context, roomID int64, team, position int) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetSlotByPosition(ctx, roomID, team, position)
}

func (s *MemoryStore) GetSlotByUser(ctx context.Context, userID int64) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetSlotByUser(ctx, userID)
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetUser(ctx, id)
}

func (s *MemoryStore) ListRooms(ctx context.Context) ([]RoomWithSlots, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListRooms(ctx)
}

func (s *MemoryStore) CreateRoom(ctx context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateRoom(ctx, r)
}

func (s *MemoryStore) CreateSlot(ctx context.Context, sl *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateSlot(ctx, sl)
}

func (s *MemoryStore) UpdateRoom(ctx context.Context, r *Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateRoom(ctx, r)
}

func (s *MemoryStore) UpdateSlot(ctx context.Context, sl *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateSlot(ctx, sl)
}

func (s *MemoryStore) UpdateTicket(ctx context.Context, roomID int64, ticketID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateTicket(ctx, roomID, ticketID)
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteRoom(ctx, roomID)
}

func (s *MemoryStore) DeleteSlot(ctx context.Context, slotID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DeleteSlot(ctx, slotID)
}

// memTx operates on the live state with the store mutex already held.
type memTx struct {
	state *memState
}

// Transaction on a transactional view just runs fn in the same scope; the
// outer transaction already owns the lock and the rollback snapshot.
func (t *memTx) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) GetRoom(ctx context.Context, id int64) (*Room, error) {
	r, ok := t.state.rooms[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "room not found")
	}
	return copyRoom(r), nil
}

// GetRoomForUpdate is plain GetRoom here: the store mutex already serializes
// the whole transaction.
func (t *memTx) GetRoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	return t.GetRoom(ctx, id)
}

func (t *memTx) GetRoomWithSlots(ctx context.Context, id int64) (*Room, []Slot, error) {
	r, err := t.GetRoom(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	slots, err := t.GetRoomSlots(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return r, slots, nil
}

func (t *memTx) GetRoomByOwner(ctx context.Context, userID int64) (*Room, error) {
	for _, r := range t.state.rooms {
		if r.OwnerID == userID {
			return copyRoom(r), nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "no room owned by user")
}

func (t *memTx) GetRoomByTicket(ctx context.Context, ticketID string) (*Room, error) {
	for _, r := range t.state.rooms {
		if r.MatchmakingTicket != nil && *r.MatchmakingTicket == ticketID {
			return copyRoom(r), nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "no room with ticket")
}

func (t *memTx) GetRoomSlots(ctx context.Context, roomID int64) ([]Slot, error) {
	var slots []Slot
	for _, sl := range t.state.slots {
		if sl.RoomID == roomID {
			slots = append(slots, sl)
		}
	}
	sortSlots(slots)
	return slots, nil
}

func (t *memTx) GetSlotByPosition(ctx context.Context, roomID int64, team, position int) (*Slot, error) {
	for _, sl := range t.state.slots {
		if sl.RoomID == roomID && sl.Team == team && sl.TeamPosition == position {
			out := sl
			return &out, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "slot not found")
}

func (t *memTx) GetSlotByUser(ctx context.Context, userID int64) (*Slot, error) {
	for _, sl := range t.state.slots {
		if sl.UserID == userID {
			out := sl
			return &out, nil
		}
	}
	return nil, apperr.New(apperr.NotFound, "user has no slot")
}

func (t *memTx) GetUser(ctx context.Context, id int64) (*User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	out := u
	return &out, nil
}

func (t *memTx) ListRooms(ctx context.Context) ([]RoomWithSlots, error) {
	ids := make([]int64, 0, len(t.state.rooms))
	for id := range t.state.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]RoomWithSlots, 0, len(ids))
	for _, id := range ids {
		r := t.state.rooms[id]
		slots, _ := t.GetRoomSlots(ctx, id)
		out = append(out, RoomWithSlots{Room: *copyRoom(r), Slots: slots})
	}
	return out, nil
}

func (t *memTx) CreateRoom(ctx context.Context, r *Room) error {
	r.ID = t.state.nextRoomID
	t.state.nextRoomID++
	t.state.rooms[r.ID] = *copyRoom(*r)
	return nil
}

// CreateSlot enforces the same unique constraints the Postgres schema does,
// so races lose with Conflict on either backend.
func (t *memTx) CreateSlot(ctx context.Context, sl *Slot) error {
	for _, existing := range t.state.slots {
		if existing.UserID == sl.UserID {
			return apperr.New(apperr.Conflict, "user already occupies a slot")
		}
		if existing.RoomID == sl.RoomID && existing.Team == sl.Team && existing.TeamPosition == sl.TeamPosition {
			return apperr.New(apperr.Conflict, "slot position already taken")
		}
	}
	sl.ID = t.state.nextSlotID
	t.state.nextSlotID++
	t.state.slots[sl.ID] = *sl
	return nil
}

func (t *memTx) UpdateRoom(ctx context.Context, r *Room) error {
	if _, ok := t.state.rooms[r.ID]; !ok {
		return apperr.New(apperr.NotFound, "room not found")
	}
	t.state.rooms[r.ID] = *copyRoom(*r)
	return nil
}

func (t *memTx) UpdateSlot(ctx context.Context, sl *Slot) error {
	if _, ok := t.state.slots[sl.ID]; !ok {
		return apperr.New(apperr.NotFound, "slot not found")
	}
	for _, existing := range t.state.slots {
		if existing.ID == sl.ID {
			continue
		}
		if existing.RoomID == sl.RoomID && existing.Team == sl.Team && existing.TeamPosition == sl.TeamPosition {
			return apperr.New(apperr.Conflict, "slot position already taken")
		}
	}
	t.state.slots[sl.ID] = *sl
	return nil
}

func (t *memTx) UpdateTicket(ctx context.Context, roomID int64, ticketID *string) error {
	r, ok := t.state.rooms[roomID]
	if !ok {
		return apperr.New(apperr.NotFound, "room not found")
	}
	if ticketID != nil {
		v := *ticketID
		r.MatchmakingTicket = &v
	} else {
		r.MatchmakingTicket = nil
	}
	t.state.rooms[roomID] = r
	return nil
}

func (t *memTx) DeleteRoom(ctx context.Context, roomID int64) error {
	if _, ok := t.state.rooms[roomID]; !ok {
		return apperr.New(apperr.NotFound, "room not found")
	}
	delete(t.state.rooms, roomID)
	for id, sl := range t.state.slots {
		if sl.RoomID == roomID {
			delete(t.state.slots, id)
		}
	}
	return nil
}

func (t *memTx) DeleteSlot(ctx context.Context, slotID int64) error {
	if _, ok := t.state.slots[slotID]; !ok {
		return apperr.New(apperr.NotFound, "slot not found")
	}
	delete(t.state.slots, slotID)
	return nil
}

func copyRoom(r Room) *Room {
	if r.MatchmakingTicket != nil {
		t := *r.MatchmakingTicket
		r.MatchmakingTicket = &t
	}
	return &r
}

func sortSlots(slots []Slot) {
	slices.SortFunc(slots, func(a, b Slot) int {
		if a.Team != b.Team {
			return a.Team - b.Team
		}
		return a.TeamPosition - b.TeamPosition
	})
}
