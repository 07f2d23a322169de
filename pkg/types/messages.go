package types

import "encoding/json"

// Server -> Client message types pushed over the websocket.
const (
	MsgRoomUpdate    = "room_update"
	MsgRoomDeleted   = "room_deleted"
	MsgKicked        = "kicked"
	MsgSearchStarted = "search_started"
	MsgSearchStopped = "search_stopped"
	MsgSearchFailed  = "search_failed"
	MsgMatchFound    = "match_found"
)

type ServerMessage struct {
	Type   string          `json:"type"`
	Room   *RoomSnapshot   `json:"room,omitempty"`
	RoomID int64           `json:"room_id,omitempty"`
	Match  json.RawMessage `json:"match,omitempty"`
}

type RoomSnapshot struct {
	ID                int64          `json:"id"`
	Label             string         `json:"label"`
	OwnerID           int64          `json:"owner_id"`
	NbTeams           int            `json:"nb_teams"`
	MaxPlayersPerTeam int            `json:"max_players_per_team"`
	CurrentGameMode   string         `json:"current_game_mode"`
	CurrentMap        string         `json:"current_map"`
	Searching         bool           `json:"searching"`
	Slots             []SlotSnapshot `json:"slots"`
}

type SlotSnapshot struct {
	Team         int    `json:"team"`
	TeamPosition int    `json:"team_position"`
	UserID       int64  `json:"user_id"`
	Archetype    string `json:"archetype"`
}
