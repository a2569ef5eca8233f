package protocol

// Type tags every message exchanged over a room connection.
type Type string

// Client -> server, canvas rooms.
const (
	TypeJoin          Type = "join"
	TypeLeave         Type = "leave"
	TypeElementAdd    Type = "element_add"
	TypeElementUpdate Type = "element_update"
	TypeElementDelete Type = "element_delete"
	TypeCursorMove    Type = "cursor_move"
	TypeUndo          Type = "undo"
	TypeRedo          Type = "redo"
	TypeLayerAction   Type = "layer_action"
	TypeGroup         Type = "group"
	TypeUngroup       Type = "ungroup"
)

// Server -> client, canvas rooms.
const (
	TypeSync           Type = "sync"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeElementAdded   Type = "element_added"
	TypeElementUpdated Type = "element_updated"
	TypeElementDeleted Type = "element_deleted"
	TypeCursorMoved    Type = "cursor_moved"
	TypeUndoResult     Type = "undo_result"
	TypeRedoResult     Type = "redo_result"
	TypeError          Type = "error"
)

// Client -> server, game rooms.
const (
	TypeStartGame  Type = "start_game"
	TypeSelectWord Type = "select_word"
	TypeGuess      Type = "guess"
	TypeChat       Type = "chat"
	TypeKickPlayer Type = "kick_player"
	TypeBanPlayer  Type = "ban_player"
)

// Server -> client, game rooms.
const (
	TypeRoomStateChanged Type = "room_state_changed"
	TypePlayerJoined     Type = "player_joined"
	TypePlayerLeft       Type = "player_left"
	TypeRoundStarted     Type = "round_started"
	TypeWordOptions      Type = "word_options"
	TypeWordSelected     Type = "word_selected"
	TypeGuessResult      Type = "guess_result"
	TypeChatMessage      Type = "chat_message"
	TypeScoreUpdate      Type = "score_update"
	TypeHintRevealed     Type = "hint_revealed"
	TypeTimerUpdate      Type = "timer_update"
	TypeRoundEnded       Type = "round_ended"
	TypeGameOver         Type = "game_over"
	TypeHostChanged      Type = "host_changed"
	TypeKicked           Type = "kicked"
)

// Droppable reports whether a message of this type may be discarded
// under outbound backpressure. Only high-frequency ephemeral traffic
// qualifies; element and game-state mutations must survive.
func Droppable(t Type) bool {
	switch t {
	case TypeCursorMove, TypeCursorMoved, TypeTimerUpdate:
		return true
	}
	return false
}
