package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/domain"
)

// Relay is the stateless SignalingRelay: it routes point-to-point handshake
// payloads and room-wide broadcasts over Registry + Directory. A missing or
// closed target is logged and silently dropped, never an error to the sender.
type Relay struct {
	reg *Registry
	dir *Directory
}

func NewRelay(reg *Registry, dir *Directory) *Relay {
	return &Relay{reg: reg, dir: dir}
}

// Send marshals v and delivers it to a single connection.
func (r *Relay) Send(id domain.ConnectionID, v any) {
	sender, ok := r.reg.Sender(id)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("cid", string(id)).Msg("send target gone")
		return
	}
	r.deliver(id, sender, v)
}

// ToPeer forwards v to the member of the room whose display name matches
// targetPeer.
func (r *Relay) ToPeer(key domain.RoomKey, targetPeer string, v any) {
	for _, id := range r.dir.Members(key) {
		conn, sender, ok := r.reg.Get(id)
		if !ok || conn.UserName != targetPeer {
			continue
		}
		r.deliver(id, sender, v)
		return
	}
	log.Info().Str("module", "app.relay").Str("room", string(key)).Str("target", targetPeer).Msg("target peer not found, dropping")
}

// Broadcast delivers v to every member of the room.
func (r *Relay) Broadcast(key domain.RoomKey, v any) {
	r.broadcast(key, "", v)
}

// BroadcastExcept delivers v to every member except the named user.
func (r *Relay) BroadcastExcept(key domain.RoomKey, exceptUser string, v any) {
	r.broadcast(key, exceptUser, v)
}

func (r *Relay) broadcast(key domain.RoomKey, exceptUser string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal broadcast")
		return
	}
	for _, id := range r.dir.Members(key) {
		conn, sender, ok := r.reg.Get(id)
		if !ok {
			continue
		}
		if exceptUser != "" && conn.UserName == exceptUser {
			continue
		}
		if err := sender.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "app.relay").Str("cid", string(id)).Msg("broadcast send dropped")
		}
	}
}

func (r *Relay) deliver(id domain.ConnectionID, sender Sender, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal message")
		return
	}
	if err := sender.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("cid", string(id)).Msg("send dropped")
	}
}
