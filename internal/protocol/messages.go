// Package protocol defines the wire messages exchanged over the signaling
// channel. Every inbound type has its own struct and is decoded and
// validated at the boundary before any handler runs.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/echoroom/server/internal/domain"
)

// Client -> server message types.
const (
	TypeCreateRoom       = "create_room"
	TypeJoinRoom         = "join_room"
	TypeLeaveRoom        = "leave_room"
	TypeChatMessage      = "message"
	TypeGetUsers         = "get_users"
	TypeVoiceReady       = "voice_ready"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
	TypeAudioChunk       = "audio_chunk"
	TypeStartRecording   = "start_recording"
)

// Server -> client message types.
const (
	TypeRoomCreated     = "room_created"
	TypeWelcome         = "welcome"
	TypeError           = "error"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeRoomUsers       = "room_users"
	TypeRecordingsReady = "recordings_ready"
	TypeRecordingReady  = "recording_ready"
	TypeRecordingError  = "recording_error"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingRoom    = errors.New("missing room id")
	ErrMissingUser    = errors.New("missing user name")
	ErrMissingTarget  = errors.New("missing target peer")
	ErrMissingPayload = errors.New("missing payload")
)

type Envelope struct {
	Type string `json:"type"`
}

type CreateRoom struct {
	RoomID       string `json:"roomId"`
	UserName     string `json:"userName"`
	Name         string `json:"name"`
	ImageURL     string `json:"imageUrl"`
	RoomNumberID int64  `json:"roomNumberId"`
}

func (m *CreateRoom) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if err := domain.ValidateUserName(m.UserName); err != nil {
		return err
	}
	return nil
}

type JoinRoom struct {
	RoomID       string `json:"roomId"`
	UserName     string `json:"userName"`
	Name         string `json:"name"`
	ImageURL     string `json:"imageUrl"`
	RoomNumberID int64  `json:"roomNumberId"`
}

func (m *JoinRoom) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	return domain.ValidateUserName(m.UserName)
}

type LeaveRoom struct {
	RoomID       string `json:"roomId"`
	RoomNumberID int64  `json:"roomNumberId"`
}

func (m *LeaveRoom) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	return nil
}

type ChatMessage struct {
	RoomID  string `json:"roomId"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (m *ChatMessage) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	return nil
}

type GetUsers struct {
	RoomID string `json:"roomId"`
}

func (m *GetUsers) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	return nil
}

type VoiceReady struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

func (m *VoiceReady) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.UserName == "" {
		return ErrMissingUser
	}
	return nil
}

// Offer carries an SDP offer forwarded verbatim to the named target peer.
type Offer struct {
	RoomID     string                     `json:"roomId"`
	UserName   string                     `json:"userName"`
	TargetPeer string                     `json:"targetPeer"`
	Offer      *webrtc.SessionDescription `json:"offer"`
}

func (m *Offer) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.TargetPeer == "" {
		return ErrMissingTarget
	}
	if m.Offer == nil {
		return ErrMissingPayload
	}
	return nil
}

type Answer struct {
	RoomID     string                     `json:"roomId"`
	UserName   string                     `json:"userName"`
	TargetPeer string                     `json:"targetPeer"`
	Answer     *webrtc.SessionDescription `json:"answer"`
}

func (m *Answer) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.TargetPeer == "" {
		return ErrMissingTarget
	}
	if m.Answer == nil {
		return ErrMissingPayload
	}
	return nil
}

type ICECandidate struct {
	RoomID     string                   `json:"roomId"`
	UserName   string                   `json:"userName"`
	TargetPeer string                   `json:"targetPeer"`
	Candidate  *webrtc.ICECandidateInit `json:"candidate"`
}

func (m *ICECandidate) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.TargetPeer == "" {
		return ErrMissingTarget
	}
	if m.Candidate == nil {
		return ErrMissingPayload
	}
	return nil
}

type RecordingStarted struct {
	RoomID    string `json:"roomId"`
	UserName  string `json:"userName"`
	StartTime int64  `json:"startTime"` // unix milliseconds
}

func (m *RecordingStarted) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.UserName == "" {
		return ErrMissingUser
	}
	return nil
}

type RecordingStopped struct {
	RoomID       string `json:"roomId"`
	UserName     string `json:"userName"`
	RoomNumberID int64  `json:"roomNumberId"`
}

func (m *RecordingStopped) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.UserName == "" {
		return ErrMissingUser
	}
	return nil
}

type AudioChunk struct {
	RoomID    string `json:"roomId"`
	UserName  string `json:"userName"`
	AudioData string `json:"audioData"` // base64 data URL
	Timestamp int64  `json:"timestamp"`
}

func (m *AudioChunk) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	if m.UserName == "" {
		return ErrMissingUser
	}
	if m.AudioData == "" {
		return ErrMissingPayload
	}
	return nil
}

type StartRecording struct {
	RoomID string `json:"roomId"`
}

func (m *StartRecording) Validate() error {
	if m.RoomID == "" {
		return ErrMissingRoom
	}
	return nil
}

type validator interface{ Validate() error }

// Decode parses one inbound frame into its typed message. The returned
// message is fully validated; ErrUnknownType marks types the dispatcher
// should log and ignore.
func Decode(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg validator
	switch env.Type {
	case TypeCreateRoom:
		msg = &CreateRoom{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeChatMessage:
		msg = &ChatMessage{}
	case TypeGetUsers:
		msg = &GetUsers{}
	case TypeVoiceReady:
		msg = &VoiceReady{}
	case TypeOffer:
		msg = &Offer{}
	case TypeAnswer:
		msg = &Answer{}
	case TypeICECandidate:
		msg = &ICECandidate{}
	case TypeRecordingStarted:
		msg = &RecordingStarted{}
	case TypeRecordingStopped:
		msg = &RecordingStopped{}
	case TypeAudioChunk:
		msg = &AudioChunk{}
	case TypeStartRecording:
		msg = &StartRecording{}
	default:
		return env.Type, nil, ErrUnknownType
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return env.Type, nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	if err := msg.Validate(); err != nil {
		return env.Type, nil, fmt.Errorf("validate %s: %w", env.Type, err)
	}
	return env.Type, msg, nil
}
