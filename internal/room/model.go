package room

// Room is a lobby grouping players into teams ahead of a match search. A
// non-nil MatchmakingTicket means the room is searching and rejects every
// slot mutation except stop-matchmaking.
type Room struct {
	ID                int64    `gorm:"primaryKey"`
	Label             string   `gorm:"size:64"`
	OwnerID           int64    `gorm:"index"`
	NbTeams           int      `gorm:"not null"`
	MaxPlayersPerTeam int      `gorm:"not null"`
	CurrentGameMode   GameMode `gorm:"size:32"`
	CurrentMap        GameMap  `gorm:"size:32"`
	MatchmakingTicket *string  `gorm:"size:36;index"`
}

func (Room) TableName() string { return "custom_rooms" }

func (r *Room) Capacity() int { return r.NbTeams * r.MaxPlayersPerTeam }

func (r *Room) Searching() bool { return r.MatchmakingTicket != nil }

func (r *Room) ValidSlot(team, position int) bool {
	return team >= 0 && team < r.NbTeams &&
		position >= 0 && position < r.MaxPlayersPerTeam
}

// Slot is one (team, position) occupancy in a room. The composite unique
// index keeps concurrent writers from claiming the same coordinates; the
// user index keeps a user out of two slots system-wide.
type Slot struct {
	ID               int64     `gorm:"primaryKey"`
	RoomID           int64     `gorm:"column:custom_room_id;uniqueIndex:uidx_room_position,priority:1"`
	Team             int       `gorm:"uniqueIndex:uidx_room_position,priority:2"`
	TeamPosition     int       `gorm:"uniqueIndex:uidx_room_position,priority:3"`
	UserID           int64     `gorm:"uniqueIndex:uidx_slot_user"`
	CurrentArchetype Archetype `gorm:"size:32"`
}

func (Slot) TableName() string { return "custom_room_slots" }

// User rows are owned by the auth service; this side only reads the nickname
// for matchmaking rosters.
type User struct {
	ID       int64 `gorm:"primaryKey"`
	Nickname string
}

func (User) TableName() string { return "users" }

type RoomWithSlots struct {
	Room  Room
	Slots []Slot
}

// firstFreeSlot walks coordinates in row-major order and returns the first
// pair no occupied slot claims. ok is false when the room is full.
func firstFreeSlot(r *Room, slots []Slot) (team, position int, ok bool) {
	taken := make(map[[2]int]bool, len(slots))
	for _, s := range slots {
		taken[[2]int{s.Team, s.TeamPosition}] = true
	}
	for t := 0; t < r.NbTeams; t++ {
		for p := 0; p < r.MaxPlayersPerTeam; p++ {
			if !taken[[2]int{t, p}] {
				return t, p, true
			}
		}
	}
	return 0, 0, false
}
