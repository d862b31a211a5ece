// Package protocol implements the venue's Engine.IO-style framing and the
// announce-then-payload multiplexing state machine.
package protocol

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

// Kind classifies one inbound text frame.
type Kind int

const (
	// KindUnknown is an unclassified frame; with a pending announcement it is
	// consumed as that announcement's payload.
	KindUnknown Kind = iota
	// KindOpen is the Engine.IO open frame carrying the session id.
	KindOpen
	// KindPing is the bare server heartbeat probe.
	KindPing
	// KindAuthSuccess is an event frame carrying the authorization-success marker.
	KindAuthSuccess
	// KindAuthFailure is an event frame carrying the authorization-failure marker.
	KindAuthFailure
	// KindHandshakeAck is the namespace acknowledgement that prompts the token send.
	KindHandshakeAck
	// KindAnnouncement declares the logical type of the next frame.
	KindAnnouncement
	// KindClose is the Engine.IO close frame.
	KindClose
)

const (
	openPrefix      = "0"
	handshakeAck    = "40"
	pingFrame       = "2"
	pongFrame       = "3"
	closeFrame      = "1"
	eventPrefix     = "42"
	sidMarker       = `"sid"`
	authSuccessMark = "successauth"
	authFailureMark = "autherror"
)

// announcementPattern matches the two-phase envelope `<n>-["<type>", ...]`
// that declares the logical type of the next frame.
var announcementPattern = regexp.MustCompile(`^\d+-\["([^"]+)"`)

// Classify determines the frame kind from its prefix and content. Evaluation
// order mirrors the venue contract: handshake frames first, then heartbeat,
// then event envelopes, then announcements.
func Classify(frame []byte) Kind {
	if len(frame) == 0 {
		return KindUnknown
	}
	text := string(frame)
	switch {
	case text == pingFrame:
		return KindPing
	case text == closeFrame:
		return KindClose
	case strings.HasPrefix(text, openPrefix) && bytes.Contains(frame, []byte(sidMarker)):
		return KindOpen
	case strings.HasPrefix(text, handshakeAck) && bytes.Contains(frame, []byte(sidMarker)):
		return KindHandshakeAck
	case strings.HasPrefix(text, eventPrefix) && bytes.Contains(bytes.ToLower(frame), []byte(authSuccessMark)):
		return KindAuthSuccess
	case strings.HasPrefix(text, eventPrefix) && bytes.Contains(bytes.ToLower(frame), []byte(authFailureMark)):
		return KindAuthFailure
	case announcementPattern.Match(frame):
		return KindAnnouncement
	default:
		return KindUnknown
	}
}

// AnnouncedType extracts the logical type declared by an announcement frame.
func AnnouncedType(frame []byte) (string, bool) {
	m := announcementPattern.FindSubmatch(frame)
	if len(m) != 2 {
		return "", false
	}
	return string(m[1]), true
}

// Command builds an outbound event frame `42["<name>", <json-args>]`. Nil
// args produce the bare single-element form the venue expects for queries.
func Command(name string, args any) ([]byte, error) {
	if args == nil {
		payload, err := json.Marshal([]any{name})
		if err != nil {
			return nil, fmt.Errorf("marshal command %s: %w", name, err)
		}
		return append([]byte(eventPrefix), payload...), nil
	}
	payload, err := json.Marshal([]any{name, args})
	if err != nil {
		return nil, fmt.Errorf("marshal command %s: %w", name, err)
	}
	return append([]byte(eventPrefix), payload...), nil
}
