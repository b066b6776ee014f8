// Package remote describes the conversational audio service a live session
// talks to. Implementations live in the subpackages.
package remote

import (
	"context"
	"errors"

	"github.com/Raikerian/consult-voice/pkg/audio"
)

// ErrClosed is returned by SendAudio once the connection has been closed.
var ErrClosed = errors.New("remote connection closed")

// EventKind tags an inbound Event.
type EventKind int

const (
	EventOpen EventKind = iota
	EventAudio
	EventText
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message from the remote service. Only the fields that belong
// to Kind are set.
type Event struct {
	Kind EventKind

	Audio audio.EncodedChunk

	Text string
	// FromUser marks a transcription of the user's own speech.
	FromUser bool

	Err error
}

// Options configure a new connection.
type Options struct {
	Credential   string
	Model        string
	Instructions string
	Voice        string
}

// Dialer opens connections to a remote service.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}

// Conn is an established connection. Events is closed when the connection
// ends; Err then reports why (nil after Close).
type Conn interface {
	Events() <-chan Event
	Err() error
	SendAudio(ctx context.Context, chunk audio.EncodedChunk) error
	Close() error
}
