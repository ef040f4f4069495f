package protocol

import (
	"time"

	"github.com/echoroom/server/internal/domain"
)

// Outbound messages carry their own type tag so they can be marshaled as-is.

type RoomCreatedMsg struct {
	Type    string            `json:"type"`
	RoomID  string            `json:"roomId"`
	Message string            `json:"message"`
	Users   []domain.RoomUser `json:"users"`
}

func NewRoomCreated(roomID, message string, users []domain.RoomUser) RoomCreatedMsg {
	return RoomCreatedMsg{Type: TypeRoomCreated, RoomID: roomID, Message: message, Users: users}
}

type WelcomeMsg struct {
	Type      string            `json:"type"`
	RoomID    string            `json:"roomId"`
	Message   string            `json:"message"`
	Users     []domain.RoomUser `json:"users"`
	Timestamp string            `json:"timestamp"`
}

func NewWelcome(roomID, message string, users []domain.RoomUser) WelcomeMsg {
	return WelcomeMsg{Type: TypeWelcome, RoomID: roomID, Message: message, Users: users, Timestamp: now()}
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Message: message}
}

type MembershipMsg struct {
	Type      string            `json:"type"`
	UserName  string            `json:"userName"`
	Message   string            `json:"message"`
	Users     []domain.RoomUser `json:"users"`
	Timestamp string            `json:"timestamp"`
}

func NewUserJoined(userName string, users []domain.RoomUser) MembershipMsg {
	return MembershipMsg{Type: TypeUserJoined, UserName: userName, Message: userName + " joined the room", Users: users, Timestamp: now()}
}

func NewUserLeft(userName string, users []domain.RoomUser) MembershipMsg {
	return MembershipMsg{Type: TypeUserLeft, UserName: userName, Message: userName + " left the room", Users: users, Timestamp: now()}
}

type RoomUsersMsg struct {
	Type   string            `json:"type"`
	RoomID string            `json:"roomId"`
	Users  []domain.RoomUser `json:"users"`
}

func NewRoomUsers(roomID string, users []domain.RoomUser) RoomUsersMsg {
	return RoomUsersMsg{Type: TypeRoomUsers, RoomID: roomID, Users: users}
}

type ChatMsg struct {
	Type      string `json:"type"`
	UserName  string `json:"userName"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewChat(userName, name, message string) ChatMsg {
	return ChatMsg{Type: TypeChatMessage, UserName: userName, Name: name, Message: message, Timestamp: now()}
}

type VoiceReadyMsg struct {
	Type     string `json:"type"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
}

func NewVoiceReady(roomID, userName string) VoiceReadyMsg {
	return VoiceReadyMsg{Type: TypeVoiceReady, UserName: userName, RoomID: roomID}
}

type RecordingStartedMsg struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

func NewRecordingStarted(roomID, userName string) RecordingStartedMsg {
	return RecordingStartedMsg{Type: TypeRecordingStarted, RoomID: roomID, UserName: userName}
}

// ParticipantRecording describes one finished per-participant track.
type ParticipantRecording struct {
	UserName    string  `json:"userName"`
	DownloadURL string  `json:"downloadUrl"`
	StartTime   int64   `json:"startTime"`
	Duration    float64 `json:"duration"`
}

type RecordingsReadyMsg struct {
	Type       string                 `json:"type"`
	RoomID     string                 `json:"roomId"`
	Message    string                 `json:"message"`
	Recordings []ParticipantRecording `json:"recordings"`
	Timestamp  string                 `json:"timestamp"`
}

func NewRecordingsReady(roomID string, recordings []ParticipantRecording) RecordingsReadyMsg {
	return RecordingsReadyMsg{
		Type:       TypeRecordingsReady,
		RoomID:     roomID,
		Message:    "Individual recordings are ready for download",
		Recordings: recordings,
		Timestamp:  now(),
	}
}

type RecordingReadyMsg struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId"`
	Message     string `json:"message"`
	DownloadURL string `json:"downloadUrl"`
	Timestamp   string `json:"timestamp"`
}

func NewRecordingReady(roomID, message, downloadURL string) RecordingReadyMsg {
	return RecordingReadyMsg{Type: TypeRecordingReady, RoomID: roomID, Message: message, DownloadURL: downloadURL, Timestamp: now()}
}

type RecordingErrorMsg struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewRecordingError(roomID, message string) RecordingErrorMsg {
	return RecordingErrorMsg{Type: TypeRecordingError, RoomID: roomID, Message: message, Timestamp: now()}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
