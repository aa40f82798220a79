package stream

import (
	"time"

	"github.com/dshills/hostshim/internal/adapter"
	"github.com/dshills/hostshim/internal/event"
)

// MessageType tags stream messages.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgLog      MessageType = "log"
	MsgExit     MessageType = "exit"
	MsgNotice   MessageType = "notice"
)

// Message is one JSON frame sent to clients.
type Message struct {
	Type MessageType `json:"type"`
	TS   float64     `json:"ts"`

	Session  string   `json:"session,omitempty"`
	Content  string   `json:"content,omitempty"`
	ExitCode *int     `json:"exit_code,omitempty"`
	Sessions []string `json:"sessions,omitempty"`

	Level adapter.Level `json:"level,omitempty"`
	Title string        `json:"title,omitempty"`
	Text  string        `json:"message,omitempty"`
}

// fromEvent converts a bus event. ok is false for types the stream does
// not carry.
func fromEvent(ev event.Event) (Message, bool) {
	switch e := ev.(type) {
	case *event.LogEvent:
		return Message{
			Type:    MsgLog,
			TS:      event.UnixSeconds(e.Timestamp),
			Session: e.SessionName,
			Content: e.Content,
		}, true
	case *event.ExitEvent:
		code := e.ExitCode
		return Message{
			Type:     MsgExit,
			TS:       event.UnixSeconds(e.Timestamp),
			Session:  e.SessionName,
			ExitCode: &code,
		}, true
	default:
		return Message{}, false
	}
}

func snapshot(sessions []string) Message {
	if sessions == nil {
		sessions = []string{}
	}
	return Message{
		Type:     MsgSnapshot,
		TS:       event.UnixSeconds(time.Now()),
		Sessions: sessions,
	}
}
