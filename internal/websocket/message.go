package websocket

import "encoding/json"

// Frame types exchanged over the socket.
const (
	FrameRegister   = "register"
	FrameRegistered = "registered"
	FramePing       = "ping"
	FrameError      = "error"
)

// Error codes sent in error frames.
const (
	CodeBadFrame    = "bad_frame"
	CodeUnknownType = "unknown_type"
	CodeForbidden   = "forbidden"
	CodeInvalidUser = "invalid_user"
)

// ClientFrame is any frame sent by a client. Only the fields relevant to Type are set.
type ClientFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
}

// RegisteredFrame acknowledges a registration.
type RegisteredFrame struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// ErrorFrame reports a rejected client frame.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeRegistered(userID, connectionID string) []byte {
	data, _ := json.Marshal(RegisteredFrame{Type: FrameRegistered, UserID: userID, ConnectionID: connectionID})
	return data
}

func encodeError(code, message string) []byte {
	data, _ := json.Marshal(ErrorFrame{Type: FrameError, Code: code, Message: message})
	return data
}
