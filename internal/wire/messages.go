// Package wire defines the tagged message variants exchanged between client
// and server (spec §4.1) and the codec that serializes them. Dispatch on the
// decoded variant is a switch on Kind, replacing an OO message hierarchy.
package wire

import "nymquest/internal/protocol"

// ClientKind identifies a client-to-server message variant.
type ClientKind string

const (
	ClientRegister   ClientKind = "register"
	ClientMove       ClientKind = "move"
	ClientAttack     ClientKind = "attack"
	ClientChat       ClientKind = "chat"
	ClientWhisper    ClientKind = "whisper"
	ClientEmote      ClientKind = "emote"
	ClientDisconnect ClientKind = "disconnect"
	ClientHeartbeat  ClientKind = "heartbeat"
	ClientAck        ClientKind = "ack"
)

// ServerKind identifies a server-to-client message variant.
type ServerKind string

const (
	ServerRegisterAck     ServerKind = "register_ack"
	ServerGameState       ServerKind = "game_state"
	ServerEvent           ServerKind = "event"
	ServerChatMessage     ServerKind = "chat_message"
	ServerWhisperMessage  ServerKind = "whisper_message"
	ServerError           ServerKind = "error"
	ServerHeartbeatReq    ServerKind = "heartbeat_request"
	ServerAck             ServerKind = "ack"
	ServerPlayerLeft      ServerKind = "player_left"
	ServerPlayerUpdate    ServerKind = "player_update"
)

// ClientMessage is the envelope for every client→server variant. Exactly one
// of the pointer fields is set, selected by Kind; this flattened-union shape
// keeps the JSON schema simple while still matching on Kind like a sum type.
type ClientMessage struct {
	Kind ClientKind `json:"kind"`
	Seq  uint64     `json:"seq"`

	Register   *RegisterBody   `json:"register,omitempty"`
	Move       *MoveBody       `json:"move,omitempty"`
	Attack     *AttackBody     `json:"attack,omitempty"`
	Chat       *ChatBody       `json:"chat,omitempty"`
	Whisper    *WhisperBody    `json:"whisper,omitempty"`
	Emote      *EmoteBody      `json:"emote,omitempty"`
	Ack        *ClientAckBody  `json:"ack,omitempty"`
}

type RegisterBody struct {
	Name            string           `json:"name"`
	Faction         protocol.Faction `json:"faction"`
	ProtocolVersion uint32           `json:"protocol_version"`
}

type MoveBody struct {
	Direction protocol.Direction `json:"direction"`
}

type AttackBody struct {
	TargetDisplayID string `json:"target_display_id"`
}

type ChatBody struct {
	Message string `json:"message"`
}

type WhisperBody struct {
	TargetDisplayID string `json:"target_display_id"`
	Message         string `json:"message"`
}

type EmoteBody struct {
	Kind protocol.EmoteKind `json:"kind"`
}

// ClientAckBody acknowledges a server message. Seq on the enclosing envelope
// is drawn from the client's sequence counter like any other message and is
// replay-checked by the server; this body carries the acknowledged server
// sequence number.
type ClientAckBody struct {
	ServerSeq     uint64     `json:"server_seq"`
	OriginalKind  ServerKind `json:"original_kind"`
}

// ServerMessage is the envelope for every server→client variant.
type ServerMessage struct {
	Kind ServerKind `json:"kind"`
	Seq  uint64     `json:"seq"`

	RegisterAck *RegisterAckBody `json:"register_ack,omitempty"`
	GameState   *GameStateBody   `json:"game_state,omitempty"`
	Event       *EventBody       `json:"event,omitempty"`
	Chat        *ChatMessageBody `json:"chat_message,omitempty"`
	Whisper     *WhisperMessageBody `json:"whisper_message,omitempty"`
	Error       *ErrorBody       `json:"error,omitempty"`
	Ack         *ServerAckBody   `json:"ack,omitempty"`
	PlayerLeft  *PlayerLeftBody  `json:"player_left,omitempty"`
	PlayerUpdate *PlayerUpdateBody `json:"player_update,omitempty"`
}

type RegisterAckBody struct {
	PlayerID           string               `json:"player_id"`
	NegotiatedVersion  uint32               `json:"negotiated_version"`
	WorldBounds        protocol.WorldBounds `json:"world_bounds"`
}

type GameStateBody struct {
	Players map[string]protocol.Player `json:"players"`
}

type EventBody struct {
	Text string `json:"text"`
}

type ChatMessageBody struct {
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

type WhisperMessageBody struct {
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

type ErrorBody struct {
	Text string `json:"text"`
}

// ServerAckBody acknowledges a client message.
type ServerAckBody struct {
	ClientSeq    uint64     `json:"client_seq"`
	OriginalKind ClientKind `json:"original_kind"`
}

type PlayerLeftBody struct {
	DisplayID string `json:"display_id"`
}

type PlayerUpdateBody struct {
	DisplayID string            `json:"display_id"`
	Position  protocol.Position `json:"position"`
	Health    int               `json:"health"`
}
