package room

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/rigidity/lobby-backend/internal/apperr"
)

const pgUniqueViolation = "23505"

// GormStore is the Postgres-backed Store. Per-room serialization comes from
// GetRoomForUpdate's row lock plus the unique indexes on custom_room_slots.
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func NewGormStore(db *gorm.DB, log *zap.Logger) *GormStore {
	return &GormStore{db: db, log: log.Named("store")}
}

// Migrate creates the room tables. The users table belongs to the auth
// service and is not migrated here.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Room{}, &Slot{})
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, log: s.log})
	})
}

func (s *GormStore) GetRoom(ctx context.Context, id int64) (*Room, error) {
	var r Room
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, s.mapErr(err, "room not found")
	}
	return &r, nil
}

func (s *GormStore) GetRoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	var r Room
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&r, id).Error
	if err != nil {
		return nil, s.mapErr(err, "room not found")
	}
	return &r, nil
}

func (s *GormStore) GetRoomWithSlots(ctx context.Context, id int64) (*Room, []Slot, error) {
	r, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	slots, err := s.GetRoomSlots(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return r, slots, nil
}

func (s *GormStore) GetRoomByOwner(ctx context.Context, userID int64) (*Room, error) {
	var r Room
	err := s.db.WithContext(ctx).Where("owner_id = ?", userID).First(&r).Error
	if err != nil {
		return nil, s.mapErr(err, "no room owned by user")
	}
	return &r, nil
}

func (s *GormStore) GetRoomByTicket(ctx context.Context, ticketID string) (*Room, error) {
	var r Room
	err := s.db.WithContext(ctx).Where("matchmaking_ticket = ?", ticketID).First(&r).Error
	if err != nil {
		return nil, s.mapErr(err, "no room with ticket")
	}
	return &r, nil
}

func (s *GormStore) GetRoomSlots(ctx context.Context, roomID int64) ([]Slot, error) {
	var slots []Slot
	err := s.db.WithContext(ctx).
		Where("custom_room_id = ?", roomID).
		Order("team, team_position").
		Find(&slots).Error
	if err != nil {
		return nil, s.mapErr(err, "loading slots")
	}
	return slots, nil
}

func (s *GormStore) GetSlotByPosition(ctx context.Context, roomID int64, team, position int) (*Slot, error) {
	var sl Slot
	err := s.db.WithContext(ctx).
		Where("custom_room_id = ? AND team = ? AND team_position = ?", roomID, team, position).
		First(&sl).Error
	if err != nil {
		return nil, s.mapErr(err, "slot not found")
	}
	return &sl, nil
}

func (s *GormStore) GetSlotByUser(ctx context.Context, userID int64) (*Slot, error) {
	var sl Slot
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sl).Error
	if err != nil {
		return nil, s.mapErr(err, "user has no slot")
	}
	return &sl, nil
}

func (s *GormStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, s.mapErr(err, "user not found")
	}
	return &u, nil
}

func (s *GormStore) ListRooms(ctx context.Context) ([]RoomWithSlots, error) {
	var rooms []Room
	if err := s.db.WithContext(ctx).Order("id").Find(&rooms).Error; err != nil {
		return nil, s.mapErr(err, "listing rooms")
	}
	out := make([]RoomWithSlots, 0, len(rooms))
	for _, r := range rooms {
		slots, err := s.GetRoomSlots(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomWithSlots{Room: r, Slots: slots})
	}
	return out, nil
}

func (s *GormStore) CreateRoom(ctx context.Context, r *Room) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return s.mapErr(err, "creating room")
	}
	return nil
}

func (s *GormStore) CreateSlot(ctx context.Context, sl *Slot) error {
	if err := s.db.WithContext(ctx).Create(sl).Error; err != nil {
		return s.mapErr(err, "creating slot")
	}
	return nil
}

func (s *GormStore) UpdateRoom(ctx context.Context, r *Room) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return s.mapErr(err, "updating room")
	}
	return nil
}

func (s *GormStore) UpdateSlot(ctx context.Context, sl *Slot) error {
	if err := s.db.WithContext(ctx).Save(sl).Error; err != nil {
		return s.mapErr(err, "updating slot")
	}
	return nil
}

func (s *GormStore) UpdateTicket(ctx context.Context, roomID int64, ticketID *string) error {
	err := s.db.WithContext(ctx).Model(&Room{}).
		Where("id = ?", roomID).
		Update("matchmaking_ticket", ticketID).Error
	if err != nil {
		return s.mapErr(err, "updating ticket")
	}
	return nil
}

func (s *GormStore) DeleteRoom(ctx context.Context, roomID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("custom_room_id = ?", roomID).Delete(&Slot{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Room{}, roomID).Error
	})
	if err != nil {
		return s.mapErr(err, "deleting room")
	}
	return nil
}

func (s *GormStore) DeleteSlot(ctx context.Context, slotID int64) error {
	if err := s.db.WithContext(ctx).Delete(&Slot{}, slotID).Error; err != nil {
		return s.mapErr(err, "deleting slot")
	}
	return nil
}

// mapErr translates driver errors into the taxonomy: missing rows become
// NotFound, unique-index violations become Conflict (a concurrent writer won
// the coordinates or the user already sits somewhere), the rest Internal.
func (s *GormStore) mapErr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.NotFound, msg, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperr.Wrap(apperr.Conflict, msg, err)
	}
	s.log.Error("store failure", zap.String("op", msg), zap.Error(err))
	return apperr.Wrap(apperr.Internal, msg, err)
}
