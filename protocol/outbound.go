package protocol

import (
	"encoding/json"
	"time"
)

// Outbound messages carry their own type tag so they can be handed to
// json.Marshal as-is. Field names are the wire contract; engines fill
// the payloads from their own models.

type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

type UserJoined struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

func NewUserJoined(userID, userName string) UserJoined {
	return UserJoined{Type: TypeUserJoined, UserID: userID, UserName: userName}
}

type UserLeft struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

func NewUserLeft(userID, userName string) UserLeft {
	return UserLeft{Type: TypeUserLeft, UserID: userID, UserName: userName}
}

type Sync struct {
	Type           Type              `json:"type"`
	Canvas         json.RawMessage   `json:"canvas"`
	ConnectedUsers []json.RawMessage `json:"connected_users"`
}

type ElementAdded struct {
	Type    Type            `json:"type"`
	UserID  string          `json:"user_id"`
	Element json.RawMessage `json:"element"`
	Version int64           `json:"version"`
}

type ElementUpdated struct {
	Type      Type                   `json:"type"`
	UserID    string                 `json:"user_id"`
	ElementID string                 `json:"element_id"`
	Updates   map[string]interface{} `json:"updates"`
	Version   int64                  `json:"version"`
}

type ElementDeleted struct {
	Type      Type   `json:"type"`
	UserID    string `json:"user_id"`
	ElementID string `json:"element_id"`
	Version   int64  `json:"version"`
}

type CursorMoved struct {
	Type     Type    `json:"type"`
	UserID   string  `json:"user_id"`
	UserName string  `json:"user_name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// HistoryResult answers undo and redo. The full element set goes out
// because the requester's own state must reconcile too.
type HistoryResult struct {
	Type     Type              `json:"type"`
	UserID   string            `json:"user_id"`
	CanUndo  bool              `json:"can_undo"`
	CanRedo  bool              `json:"can_redo"`
	Elements []json.RawMessage `json:"elements"`
}

// Game messages. RoomCode and GameState ride on every one of them.

type GameEvent struct {
	Type      Type            `json:"type"`
	RoomCode  string          `json:"room_code"`
	GameState string          `json:"game_state"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type TimerUpdate struct {
	Type          Type    `json:"type"`
	RoomCode      string  `json:"room_code"`
	GameState     string  `json:"game_state"`
	TimeRemaining float64 `json:"time_remaining"`
}

type ChatBroadcast struct {
	Type        Type      `json:"type"`
	RoomCode    string    `json:"room_code"`
	GameState   string    `json:"game_state"`
	MessageType string    `json:"message_type"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// Marshal encodes an outbound message. Encoding our own structs only
// fails on programmer error, so the byte slice is returned bare and a
// nil slice signals the caller to drop the frame.
func Marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
