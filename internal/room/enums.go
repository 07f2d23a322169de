package room

import "github.com/rigidity/lobby-backend/internal/apperr"

// Closed sets validated at the service boundary. The store only ever sees
// values that parsed here.

type GameMode string

const (
	ModeTeamDeathmatch GameMode = "team_deathmatch"
	ModeCaptureTheFlag GameMode = "capture_the_flag"
	ModeControlPoints  GameMode = "control_points"
)

const DefaultGameMode = ModeTeamDeathmatch

func ParseGameMode(s string) (GameMode, error) {
	switch GameMode(s) {
	case ModeTeamDeathmatch, ModeCaptureTheFlag, ModeControlPoints:
		return GameMode(s), nil
	default:
		return "", apperr.Newf(apperr.Conflict, "unknown game mode %q", s)
	}
}

type GameMap string

const (
	MapFrostline GameMap = "frostline"
	MapSandstorm GameMap = "sandstorm"
	MapTerminal  GameMap = "terminal"
)

const DefaultMap = MapFrostline

func ParseGameMap(s string) (GameMap, error) {
	switch GameMap(s) {
	case MapFrostline, MapSandstorm, MapTerminal:
		return GameMap(s), nil
	default:
		return "", apperr.Newf(apperr.Conflict, "unknown map %q", s)
	}
}

type Archetype string

const (
	ArchetypeAssault Archetype = "assault"
	ArchetypeSupport Archetype = "support"
	ArchetypeSniper  Archetype = "sniper"
	ArchetypeMedic   Archetype = "medic"
)

const DefaultArchetype = ArchetypeAssault

func ParseArchetype(s string) (Archetype, error) {
	switch Archetype(s) {
	case ArchetypeAssault, ArchetypeSupport, ArchetypeSniper, ArchetypeMedic:
		return Archetype(s), nil
	default:
		return "", apperr.Newf(apperr.Conflict, "unknown archetype %q", s)
	}
}
