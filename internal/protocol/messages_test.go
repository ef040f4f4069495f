package protocol

import (
	"errors"
	"testing"
)

func TestDecodeCreateRoom(t *testing.T) {
	data := []byte(`{"type":"create_room","roomId":"r1","userName":"alice","name":"Alice","roomNumberId":7}`)
	msgType, msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msgType != TypeCreateRoom {
		t.Errorf("type = %q, want create_room", msgType)
	}
	m, ok := msg.(*CreateRoom)
	if !ok {
		t.Fatalf("message is %T, want *CreateRoom", msg)
	}
	if m.RoomID != "r1" || m.UserName != "alice" || m.RoomNumberID != 7 {
		t.Errorf("decoded = %+v", m)
	}
}

func TestDecodeOffer(t *testing.T) {
	data := []byte(`{"type":"offer","roomId":"r1","userName":"alice","targetPeer":"bob","offer":{"type":"offer","sdp":"v=0"}}`)
	_, msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := msg.(*Offer)
	if m.TargetPeer != "bob" {
		t.Errorf("targetPeer = %q, want bob", m.TargetPeer)
	}
	if m.Offer == nil || m.Offer.SDP != "v=0" {
		t.Errorf("offer payload = %+v", m.Offer)
	}
}

func TestDecodeAudioChunk(t *testing.T) {
	data := []byte(`{"type":"audio_chunk","roomId":"r1","userName":"alice","audioData":"data:audio/webm;base64,AAAA","timestamp":1700000000000}`)
	_, msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := msg.(*AudioChunk)
	if m.AudioData == "" {
		t.Error("audioData lost in decode")
	}
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name string
		data string
		want error
	}{
		{"unknown type", `{"type":"teleport"}`, ErrUnknownType},
		{"create without room", `{"type":"create_room","userName":"alice"}`, ErrMissingRoom},
		{"create without user", `{"type":"create_room","roomId":"r1"}`, nil},
		{"offer without target", `{"type":"offer","roomId":"r1","offer":{"type":"offer","sdp":"v=0"}}`, ErrMissingTarget},
		{"offer without payload", `{"type":"offer","roomId":"r1","targetPeer":"bob"}`, ErrMissingPayload},
		{"chunk without audio", `{"type":"audio_chunk","roomId":"r1","userName":"alice"}`, ErrMissingPayload},
		{"voice_ready without user", `{"type":"voice_ready","roomId":"r1"}`, ErrMissingUser},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := Decode([]byte(c.data))
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if c.want != nil && !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("want error for malformed frame")
	}
}
