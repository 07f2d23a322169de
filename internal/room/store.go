package room

import "context"

// Store is the transactional persistence boundary for rooms and slots.
// Implementations must serialize structural mutations per room: inside a
// Transaction, GetRoomForUpdate pins the room row so validate-then-write
// sequences cannot interleave with a concurrent writer. A losing concurrent
// writer surfaces as apperr.Conflict.
type Store interface {
	// Transaction runs fn against a transactional view. A non-nil error
	// from fn rolls back everything fn wrote.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetRoom(ctx context.Context, id int64) (*Room, error)
	// GetRoomForUpdate locks the room row for the rest of the enclosing
	// transaction.
	GetRoomForUpdate(ctx context.Context, id int64) (*Room, error)
	GetRoomWithSlots(ctx context.Context, id int64) (*Room, []Slot, error)
	GetRoomByOwner(ctx context.Context, userID int64) (*Room, error)
	GetRoomByTicket(ctx context.Context, ticketID string) (*Room, error)
	GetRoomSlots(ctx context.Context, roomID int64) ([]Slot, error)
	GetSlotByPosition(ctx context.Context, roomID int64, team, position int) (*Slot, error)
	GetSlotByUser(ctx context.Context, userID int64) (*Slot, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	ListRooms(ctx context.Context) ([]RoomWithSlots, error)

	CreateRoom(ctx context.Context, r *Room) error
	CreateSlot(ctx context.Context, s *Slot) error
	UpdateRoom(ctx context.Context, r *Room) error
	UpdateSlot(ctx context.Context, s *Slot) error
	UpdateTicket(ctx context.Context, roomID int64, ticketID *string) error
	// DeleteRoom removes the room and cascades its slots.
	DeleteRoom(ctx context.Context, roomID int64) error
	DeleteSlot(ctx context.Context, slotID int64) error
}
