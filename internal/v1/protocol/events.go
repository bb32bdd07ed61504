// Package protocol defines the broker's wire contract: event names, payload
// schemas, validation, and the closed error-code set.
//
// Every client-to-server message is a named event with a JSON payload.
// Validation is strict - unknown fields are rejected everywhere except
// inside the opaque controller input, which the broker forwards verbatim.
package protocol

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Client->Server event names, host origin.
const (
	EventHostRegisterSystem = "host:registerSystem"
	EventHostRegister       = "host:register"
	EventHostJoinAsChild    = "host:joinAsChild"
	EventSystemLaunchGame   = "system:launchGame"
	EventSystemCloseGame    = "system:closeGame"
	EventHostState          = "host:state"
	EventHostSystem         = "host:system"
	EventHostSignal         = "host:signal"
	EventHostPlaySound      = "host:play_sound"
)

// Client->Server event names, controller origin.
const (
	EventControllerJoin      = "controller:join"
	EventControllerLeave     = "controller:leave"
	EventControllerInput     = "controller:input"
	EventControllerSystem    = "controller:system"
	EventControllerPlaySound = "controller:play_sound"
)

// Server->Client event names.
const (
	EventServerRoomReady        = "server:roomReady"
	EventServerWelcome          = "server:welcome"
	EventServerControllerJoined = "server:controllerJoined"
	EventServerControllerLeft   = "server:controllerLeft"
	EventServerHostLeft         = "server:hostLeft"
	EventServerCloseChild       = "server:closeChild"
	EventServerState            = "server:state"
	EventServerInput            = "server:input"
	EventServerSignal           = "server:signal"
	EventServerPlaySound        = "server:playSound"
	EventServerError            = "server:error"
	EventClientLoadUI           = "client:loadUi"
	EventClientUnloadUI         = "client:unloadUi"
)

// Game state wire values. The room starts paused.
const (
	GameStatePlaying = "playing"
	GameStatePaused  = "paused"
)

// System commands accepted on host:system / controller:system.
const (
	CommandTogglePause = "toggle_pause"
	CommandExit        = "exit"
)

const (
	maxControllerIDLen = 64
	maxNicknameLen     = 32
	maxPlayersCap      = 128
)

// PlayerProfile is the wire representation of an admitted controller.
type PlayerProfile struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// --- Client->Server payloads ---

// RegisterSystemPayload registers or reattaches the master (arcade) host.
type RegisterSystemPayload struct {
	RoomID string `json:"roomId"`
	APIKey string `json:"apiKey"`
}

func (p *RegisterSystemPayload) Validate() *Error {
	return validateRoomCodeOptional(p.RoomID)
}

// RegisterPayload is the legacy standalone host registration.
type RegisterPayload struct {
	RoomID     string `json:"roomId"`
	MaxPlayers int    `json:"maxPlayers"`
}

func (p *RegisterPayload) Validate() *Error {
	if err := validateRoomCodeOptional(p.RoomID); err != nil {
		return err
	}
	if p.MaxPlayers < 0 || p.MaxPlayers > maxPlayersCap {
		return invalidPayload("maxPlayers must be between 0 and %d", maxPlayersCap)
	}
	return nil
}

// JoinAsChildPayload binds an embedded game host to an existing room.
type JoinAsChildPayload struct {
	RoomID    string `json:"roomId"`
	JoinToken string `json:"joinToken"`
}

func (p *JoinAsChildPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.JoinToken == "" {
		return invalidPayload("joinToken is required")
	}
	return nil
}

// LaunchGamePayload asks the broker to mint a join token and point
// controllers at the game's controller UI.
type LaunchGamePayload struct {
	RoomID  string `json:"roomId"`
	GameID  string `json:"gameId"`
	GameURL string `json:"gameUrl"`
}

func (p *LaunchGamePayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.GameID == "" {
		return invalidPayload("gameId is required")
	}
	if !isHTTPURL(p.GameURL) {
		return invalidPayload("gameUrl must be an http(s) URL")
	}
	return nil
}

// CloseGamePayload forcibly ends the child host.
type CloseGamePayload struct {
	RoomID string `json:"roomId"`
}

func (p *CloseGamePayload) Validate() *Error {
	return validateRoomCode(p.RoomID)
}

// StatePatch is the partial room state a host may broadcast.
type StatePatch struct {
	GameState string `json:"gameState,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HostStatePayload broadcasts room state to controllers and peer hosts.
type HostStatePayload struct {
	RoomID string     `json:"roomId"`
	State  StatePatch `json:"state"`
}

func (p *HostStatePayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.State.GameState != "" && p.State.GameState != GameStatePlaying && p.State.GameState != GameStatePaused {
		return invalidPayload("state.gameState must be %q or %q", GameStatePlaying, GameStatePaused)
	}
	return nil
}

// HostSystemPayload is a host-initiated system command.
type HostSystemPayload struct {
	RoomID  string `json:"roomId"`
	Command string `json:"command"`
}

func (p *HostSystemPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.Command != CommandTogglePause {
		return invalidPayload("unknown command %q", p.Command)
	}
	return nil
}

// HostSignalPayload is a fire-and-forget signal to one controller or all.
// RoomID is optional; when omitted the broker uses the sender's room.
type HostSignalPayload struct {
	RoomID   string          `json:"roomId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

func (p *HostSignalPayload) Validate() *Error {
	return validateRoomCodeOptional(p.RoomID)
}

// HostPlaySoundPayload instructs one or all controllers to play a sound cue.
// Only the identifier travels on the wire; the broker carries no audio.
type HostPlaySoundPayload struct {
	RoomID             string   `json:"roomId"`
	TargetControllerID string   `json:"targetControllerId,omitempty"`
	SoundID            string   `json:"soundId"`
	Volume             *float64 `json:"volume,omitempty"`
	Loop               *bool    `json:"loop,omitempty"`
}

func (p *HostPlaySoundPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.SoundID == "" {
		return invalidPayload("soundId is required")
	}
	return nil
}

// ControllerJoinPayload admits a controller into a room.
type ControllerJoinPayload struct {
	RoomID       string `json:"roomId"`
	ControllerID string `json:"controllerId"`
	Nickname     string `json:"nickname,omitempty"`
}

func (p *ControllerJoinPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if err := validateControllerID(p.ControllerID); err != nil {
		return err
	}
	if len(p.Nickname) > maxNicknameLen {
		return invalidPayload("nickname must be at most %d characters", maxNicknameLen)
	}
	return nil
}

// ControllerLeavePayload removes a controller from a room.
type ControllerLeavePayload struct {
	RoomID       string `json:"roomId"`
	ControllerID string `json:"controllerId"`
}

func (p *ControllerLeavePayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	return validateControllerID(p.ControllerID)
}

// ControllerInputPayload carries an opaque input blob. Only the envelope is
// validated; Input is forwarded to the active host byte-identical.
type ControllerInputPayload struct {
	RoomID       string          `json:"roomId"`
	ControllerID string          `json:"controllerId"`
	Input        json.RawMessage `json:"input"`
}

func (p *ControllerInputPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	return validateControllerID(p.ControllerID)
}

// ControllerSystemPayload is a controller-initiated system command.
type ControllerSystemPayload struct {
	RoomID  string `json:"roomId"`
	Command string `json:"command"`
}

func (p *ControllerSystemPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.Command != CommandExit && p.Command != CommandTogglePause {
		return invalidPayload("unknown command %q", p.Command)
	}
	return nil
}

// ControllerPlaySoundPayload asks the active host to play a sound cue.
type ControllerPlaySoundPayload struct {
	RoomID  string   `json:"roomId"`
	SoundID string   `json:"soundId"`
	Volume  *float64 `json:"volume,omitempty"`
	Loop    *bool    `json:"loop,omitempty"`
}

func (p *ControllerPlaySoundPayload) Validate() *Error {
	if err := validateRoomCode(p.RoomID); err != nil {
		return err
	}
	if p.SoundID == "" {
		return invalidPayload("soundId is required")
	}
	return nil
}

// --- Server->Client payloads ---

type RoomReadyEvent struct {
	RoomID string `json:"roomId"`
}

type WelcomeEvent struct {
	ControllerID string        `json:"controllerId"`
	RoomID       string        `json:"roomId"`
	Player       PlayerProfile `json:"player"`
}

type ControllerJoinedEvent struct {
	RoomID       string        `json:"roomId"`
	ControllerID string        `json:"controllerId"`
	Nickname     string        `json:"nickname,omitempty"`
	Player       PlayerProfile `json:"player"`
}

type ControllerLeftEvent struct {
	RoomID       string `json:"roomId"`
	ControllerID string `json:"controllerId"`
}

type CloseChildEvent struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason,omitempty"`
}

type HostLeftEvent struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type StateEvent struct {
	RoomID string     `json:"roomId"`
	State  StatePatch `json:"state"`
}

type InputEvent struct {
	RoomID       string          `json:"roomId"`
	ControllerID string          `json:"controllerId"`
	Input        json.RawMessage `json:"input"`
}

type SignalEvent struct {
	RoomID   string          `json:"roomId"`
	TargetID string          `json:"targetId,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
}

type PlaySoundEvent struct {
	ID     string   `json:"id"`
	Volume *float64 `json:"volume,omitempty"`
	Loop   *bool    `json:"loop,omitempty"`
}

type ServerErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type LoadUIEvent struct {
	URL string `json:"url"`
}

// --- field validators ---

func validateControllerID(id string) *Error {
	if id == "" {
		return invalidPayload("controllerId is required")
	}
	if len(id) > maxControllerIDLen {
		return invalidPayload("controllerId must be at most %d characters", maxControllerIDLen)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validateRoomCodeOptional(code string) *Error {
	if code == "" {
		return nil
	}
	return validateRoomCode(code)
}

func validateRoomCode(code string) *Error {
	if len(code) < minRoomCodeLen {
		return invalidPayload("roomId must be at least %d characters", minRoomCodeLen)
	}
	if strings.IndexFunc(code, func(r rune) bool {
		return !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) >= 0 {
		return invalidPayload("roomId must contain only uppercase letters and digits")
	}
	return nil
}
