package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/app"
	"github.com/echoroom/server/internal/domain"
	"github.com/echoroom/server/internal/protocol"
	"github.com/echoroom/server/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Recorder is the slice of the recording manager the endpoint drives.
type Recorder interface {
	StartCapture(key domain.RoomKey, userName string, startedAt time.Time, roomRef int64) error
	AppendChunk(key domain.RoomKey, userName, dataURL string)
	StopCapture(key domain.RoomKey, userName string, roomRef int64)
	RoomClosed(key domain.RoomKey, roomRef int64)
}

// Controller handles the signaling endpoint. One instance serves every
// connection; all per-connection state lives in the registry.
type Controller struct {
	reg       *app.Registry
	dir       *app.Directory
	relay     *app.Relay
	store     storage.Persistence
	rec       Recorder
	readLimit int64
}

func NewController(reg *app.Registry, dir *app.Directory, relay *app.Relay, store storage.Persistence, rec Recorder, readLimit int64) *Controller {
	return &Controller{reg: reg, dir: dir, relay: relay, store: store, rec: rec, readLimit: readLimit}
}

// HandleSignal upgrades the request and starts the read/write pumps.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	cid := domain.ConnectionID(c.GetString("client_token"))
	if cid == "" {
		cid = domain.ConnectionID(uuid.NewString())
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}
	log.Info().Str("module", "ws").Str("cid", string(cid)).Msg("signaling connection open")

	conn := newWSConn(ws)
	ctl.reg.Register(cid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		conn.writePump(ctx)
	}()
	go ctl.readPump(ctx, cid, conn, cancel)
}

func (ctl *Controller) readPump(ctx context.Context, cid domain.ConnectionID, c *wsConn, cancel context.CancelFunc) {
	defer func() {
		ctl.onDisconnect(cid)
		cancel()
		c.Close()
		log.Info().Str("module", "ws").Str("cid", string(cid)).Msg("signaling connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(cid, data)
		}
	}
}

// dispatch decodes one inbound frame and runs its handler. A panic in a
// handler is contained to that frame so one bad message cannot take the
// connection down with it.
func (ctl *Controller) dispatch(cid domain.ConnectionID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("module", "ws").Str("cid", string(cid)).Msg("handler panic recovered")
			ctl.relay.Send(cid, protocol.NewError("internal error"))
		}
	}()

	msgType, msg, err := protocol.Decode(data)
	if err != nil {
		// Unknown types are dropped so old servers and new clients can
		// coexist; only malformed or invalid frames earn an error reply.
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Warn().Str("module", "ws").Str("type", msgType).Str("cid", string(cid)).Msg("unknown message type ignored")
			return
		}
		log.Warn().Err(err).Str("module", "ws").Str("type", msgType).Str("cid", string(cid)).Msg("rejected frame")
		ctl.relay.Send(cid, protocol.NewError("invalid message: "+err.Error()))
		return
	}

	switch m := msg.(type) {
	case *protocol.CreateRoom:
		ctl.handleCreateRoom(cid, m)
	case *protocol.JoinRoom:
		ctl.handleJoinRoom(cid, m)
	case *protocol.LeaveRoom:
		ctl.handleLeaveRoom(cid, m)
	case *protocol.ChatMessage:
		ctl.handleChat(cid, m)
	case *protocol.GetUsers:
		ctl.handleGetUsers(cid, m)
	case *protocol.VoiceReady:
		ctl.handleVoiceReady(cid, m)
	case *protocol.Offer:
		ctl.handleOffer(cid, m)
	case *protocol.Answer:
		ctl.handleAnswer(cid, m)
	case *protocol.ICECandidate:
		ctl.handleICECandidate(cid, m)
	case *protocol.RecordingStarted:
		ctl.handleRecordingStarted(cid, m)
	case *protocol.RecordingStopped:
		ctl.handleRecordingStopped(cid, m)
	case *protocol.AudioChunk:
		ctl.handleAudioChunk(cid, m)
	case *protocol.StartRecording:
		ctl.handleStartRecording(cid, m)
	}
}

func (ctl *Controller) handleCreateRoom(cid domain.ConnectionID, m *protocol.CreateRoom) {
	key := domain.RoomKey(m.RoomID)
	ctl.reg.SetProfile(cid, m.UserName, m.Name, m.ImageURL, m.RoomNumberID)

	changed, err := ctl.dir.Create(key, cid, m.UserName)
	if err != nil {
		ctl.relay.Send(cid, protocol.NewError("Room already exists"))
		return
	}
	if changed {
		ctl.persist(func(ctx context.Context) error {
			return ctl.store.IncrementParticipants(ctx, m.RoomID)
		}, key, "increment participants")
	}
	ctl.relay.Send(cid, protocol.NewRoomCreated(m.RoomID, "Room created successfully", ctl.dir.Users(key)))
}

func (ctl *Controller) handleJoinRoom(cid domain.ConnectionID, m *protocol.JoinRoom) {
	key := domain.RoomKey(m.RoomID)
	ctl.reg.SetProfile(cid, m.UserName, m.Name, m.ImageURL, m.RoomNumberID)

	changed, err := ctl.dir.Join(key, cid, m.UserName)
	switch err {
	case nil:
	case app.ErrRoomNotFound:
		ctl.relay.Send(cid, protocol.NewError("Room does not exist"))
		return
	case app.ErrAlreadyInRoom:
		ctl.relay.Send(cid, protocol.NewError("A user with this name is already in the room"))
		return
	default:
		ctl.relay.Send(cid, protocol.NewError(err.Error()))
		return
	}

	users := ctl.dir.Users(key)
	ctl.relay.Send(cid, protocol.NewWelcome(m.RoomID, "Welcome to the room", users))
	if changed {
		ctl.persist(func(ctx context.Context) error {
			return ctl.store.IncrementParticipants(ctx, m.RoomID)
		}, key, "increment participants")
		ctl.relay.BroadcastExcept(key, m.UserName, protocol.NewUserJoined(m.UserName, users))
	}
}

func (ctl *Controller) handleLeaveRoom(cid domain.ConnectionID, m *protocol.LeaveRoom) {
	conn, _, ok := ctl.reg.Get(cid)
	if !ok {
		return
	}
	roomRef := m.RoomNumberID
	if roomRef == 0 {
		roomRef = conn.RoomRef
	}
	ctl.leave(cid, domain.RoomKey(m.RoomID), conn.UserName, roomRef)
}

// onDisconnect treats a dropped transport as a leave from whatever room the
// connection was in.
func (ctl *Controller) onDisconnect(cid domain.ConnectionID) {
	conn, _, ok := ctl.reg.Get(cid)
	if ok && conn.RoomKey != "" {
		ctl.leave(cid, conn.RoomKey, conn.UserName, conn.RoomRef)
	}
	ctl.reg.Unregister(cid)
}

// leave applies the shared membership teardown for explicit leaves and
// disconnects. Counters move only when the member was actually removed; the
// room is finalized exactly once, when its member set empties.
func (ctl *Controller) leave(cid domain.ConnectionID, key domain.RoomKey, userName string, roomRef int64) {
	removed, emptied := ctl.dir.Leave(key, cid)
	if !removed {
		return
	}

	ctl.persist(func(ctx context.Context) error {
		return ctl.store.DecrementParticipants(ctx, string(key))
	}, key, "decrement participants")

	if emptied {
		ctl.persist(func(ctx context.Context) error {
			_, err := ctl.store.MarkRoomEnded(ctx, string(key), time.Now())
			return err
		}, key, "mark room ended")
		ctl.rec.RoomClosed(key, roomRef)
		return
	}
	ctl.relay.Broadcast(key, protocol.NewUserLeft(userName, ctl.dir.Users(key)))
}

func (ctl *Controller) handleChat(cid domain.ConnectionID, m *protocol.ChatMessage) {
	conn, _, ok := ctl.reg.Get(cid)
	if !ok {
		return
	}
	ctl.relay.Broadcast(domain.RoomKey(m.RoomID), protocol.NewChat(conn.UserName, m.Name, m.Message))
}

func (ctl *Controller) handleGetUsers(cid domain.ConnectionID, m *protocol.GetUsers) {
	key := domain.RoomKey(m.RoomID)
	if !ctl.dir.Exists(key) {
		ctl.relay.Send(cid, protocol.NewError("Room does not exist"))
		return
	}
	ctl.relay.Send(cid, protocol.NewRoomUsers(m.RoomID, ctl.dir.Users(key)))
}

func (ctl *Controller) handleVoiceReady(_ domain.ConnectionID, m *protocol.VoiceReady) {
	ctl.relay.BroadcastExcept(domain.RoomKey(m.RoomID), m.UserName, protocol.NewVoiceReady(m.RoomID, m.UserName))
}

// Handshake payloads are forwarded verbatim to the named target peer.

func (ctl *Controller) handleOffer(_ domain.ConnectionID, m *protocol.Offer) {
	ctl.relay.ToPeer(domain.RoomKey(m.RoomID), m.TargetPeer, struct {
		Type     string                     `json:"type"`
		RoomID   string                     `json:"roomId"`
		UserName string                     `json:"userName"`
		Offer    *webrtc.SessionDescription `json:"offer"`
	}{protocol.TypeOffer, m.RoomID, m.UserName, m.Offer})
}

func (ctl *Controller) handleAnswer(_ domain.ConnectionID, m *protocol.Answer) {
	ctl.relay.ToPeer(domain.RoomKey(m.RoomID), m.TargetPeer, struct {
		Type     string                     `json:"type"`
		RoomID   string                     `json:"roomId"`
		UserName string                     `json:"userName"`
		Answer   *webrtc.SessionDescription `json:"answer"`
	}{protocol.TypeAnswer, m.RoomID, m.UserName, m.Answer})
}

func (ctl *Controller) handleICECandidate(_ domain.ConnectionID, m *protocol.ICECandidate) {
	ctl.relay.ToPeer(domain.RoomKey(m.RoomID), m.TargetPeer, struct {
		Type      string                   `json:"type"`
		RoomID    string                   `json:"roomId"`
		UserName  string                   `json:"userName"`
		Candidate *webrtc.ICECandidateInit `json:"candidate"`
	}{protocol.TypeICECandidate, m.RoomID, m.UserName, m.Candidate})
}

func (ctl *Controller) handleRecordingStarted(cid domain.ConnectionID, m *protocol.RecordingStarted) {
	conn, _, _ := ctl.reg.Get(cid)
	startedAt := time.Now()
	if m.StartTime > 0 {
		startedAt = time.UnixMilli(m.StartTime)
	}
	if err := ctl.rec.StartCapture(domain.RoomKey(m.RoomID), m.UserName, startedAt, conn.RoomRef); err != nil {
		log.Error().Err(err).Str("module", "ws").Str("room", m.RoomID).Str("user", m.UserName).Msg("start capture failed")
		ctl.relay.Send(cid, protocol.NewError("could not start recording"))
	}
}

func (ctl *Controller) handleRecordingStopped(cid domain.ConnectionID, m *protocol.RecordingStopped) {
	conn, _, _ := ctl.reg.Get(cid)
	roomRef := m.RoomNumberID
	if roomRef == 0 {
		roomRef = conn.RoomRef
	}
	ctl.rec.StopCapture(domain.RoomKey(m.RoomID), m.UserName, roomRef)
}

func (ctl *Controller) handleAudioChunk(_ domain.ConnectionID, m *protocol.AudioChunk) {
	ctl.rec.AppendChunk(domain.RoomKey(m.RoomID), m.UserName, m.AudioData)
}

// handleStartRecording tells every member to start its local recorder; each
// one reports back with recording_started once its capture stream is live.
func (ctl *Controller) handleStartRecording(_ domain.ConnectionID, m *protocol.StartRecording) {
	key := domain.RoomKey(m.RoomID)
	for _, id := range ctl.dir.Members(key) {
		conn, _, ok := ctl.reg.Get(id)
		if !ok {
			continue
		}
		ctl.relay.Send(id, protocol.NewRecordingStarted(m.RoomID, conn.UserName))
	}
}

// persist runs a bookkeeping call off the dispatch path. Persistence
// failures never affect the live room.
func (ctl *Controller) persist(fn func(context.Context) error, key domain.RoomKey, op string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("module", "ws").Str("room", string(key)).Str("op", op).Msg("persistence call failed")
		}
	}()
}
