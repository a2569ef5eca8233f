package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
	ErrBadPayload   = errors.New("malformed message payload")
)

// Inbound is the closed set of client messages. Every variant is
// produced by Decode and nothing else; dispatch switches on the
// concrete type and rejects anything it does not list.
type Inbound interface {
	Kind() Type
}

type Join struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type Leave struct{}

type ElementAdd struct {
	ElementType string          `json:"element_type"`
	ElementData json.RawMessage `json:"element_data"`
}

type ElementUpdate struct {
	ElementID string                 `json:"element_id"`
	Updates   map[string]interface{} `json:"updates"`
	Version   int64                  `json:"version"`
}

type ElementDelete struct {
	ElementID string `json:"element_id"`
}

type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Undo struct{}

type Redo struct{}

// LayerAction covers the z-order and layer-state verbs:
// bring_to_front, send_to_back, move_forward, move_backward,
// toggle_visibility, toggle_lock.
type LayerAction struct {
	Action    string `json:"action"`
	ElementID string `json:"element_id"`
}

type Group struct {
	ElementIDs []string `json:"element_ids"`
	Name       string   `json:"name"`
}

type Ungroup struct {
	GroupID string `json:"group_id"`
}

type StartGame struct{}

type SelectWord struct {
	Word string `json:"word"`
}

type Guess struct {
	Text string `json:"text"`
}

type Chat struct {
	Text string `json:"text"`
}

type KickPlayer struct {
	TargetID string `json:"target_id"`
}

type BanPlayer struct {
	TargetID string `json:"target_id"`
}

func (Join) Kind() Type          { return TypeJoin }
func (Leave) Kind() Type         { return TypeLeave }
func (ElementAdd) Kind() Type    { return TypeElementAdd }
func (ElementUpdate) Kind() Type { return TypeElementUpdate }
func (ElementDelete) Kind() Type { return TypeElementDelete }
func (CursorMove) Kind() Type    { return TypeCursorMove }
func (Undo) Kind() Type          { return TypeUndo }
func (Redo) Kind() Type          { return TypeRedo }
func (LayerAction) Kind() Type   { return TypeLayerAction }
func (Group) Kind() Type         { return TypeGroup }
func (Ungroup) Kind() Type       { return TypeUngroup }
func (StartGame) Kind() Type     { return TypeStartGame }
func (SelectWord) Kind() Type    { return TypeSelectWord }
func (Guess) Kind() Type         { return TypeGuess }
func (Chat) Kind() Type          { return TypeChat }
func (KickPlayer) Kind() Type    { return TypeKickPlayer }
func (BanPlayer) Kind() Type     { return TypeBanPlayer }

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one wire frame into its Inbound variant. A failure
// here is always a ProtocolError condition: the caller answers the
// sender and drops the frame, nothing else sees it.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}

	switch env.Type {
	case TypeJoin:
		var m Join
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.UserID == "" {
			return nil, fmt.Errorf("%w: user_id", ErrMissingField)
		}
		if m.UserName == "" {
			m.UserName = "Anonymous"
		}
		return m, nil
	case TypeLeave:
		return Leave{}, nil
	case TypeElementAdd:
		var m ElementAdd
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.ElementType == "" {
			return nil, fmt.Errorf("%w: element_type", ErrMissingField)
		}
		return m, nil
	case TypeElementUpdate:
		var m ElementUpdate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.ElementID == "" {
			return nil, fmt.Errorf("%w: element_id", ErrMissingField)
		}
		return m, nil
	case TypeElementDelete:
		var m ElementDelete
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.ElementID == "" {
			return nil, fmt.Errorf("%w: element_id", ErrMissingField)
		}
		return m, nil
	case TypeCursorMove:
		var m CursorMove
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeUndo:
		return Undo{}, nil
	case TypeRedo:
		return Redo{}, nil
	case TypeLayerAction:
		var m LayerAction
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Action == "" || m.ElementID == "" {
			return nil, fmt.Errorf("%w: action, element_id", ErrMissingField)
		}
		return m, nil
	case TypeGroup:
		var m Group
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if len(m.ElementIDs) < 2 {
			return nil, fmt.Errorf("%w: element_ids (need at least 2)", ErrBadPayload)
		}
		return m, nil
	case TypeUngroup:
		var m Ungroup
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.GroupID == "" {
			return nil, fmt.Errorf("%w: group_id", ErrMissingField)
		}
		return m, nil
	case TypeStartGame:
		return StartGame{}, nil
	case TypeSelectWord:
		var m SelectWord
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Word == "" {
			return nil, fmt.Errorf("%w: word", ErrMissingField)
		}
		return m, nil
	case TypeGuess:
		var m Guess
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Text == "" {
			return nil, fmt.Errorf("%w: text", ErrMissingField)
		}
		return m, nil
	case TypeChat:
		var m Chat
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Text == "" {
			return nil, fmt.Errorf("%w: text", ErrMissingField)
		}
		return m, nil
	case TypeKickPlayer:
		var m KickPlayer
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.TargetID == "" {
			return nil, fmt.Errorf("%w: target_id", ErrMissingField)
		}
		return m, nil
	case TypeBanPlayer:
		var m BanPlayer
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.TargetID == "" {
			return nil, fmt.Errorf("%w: target_id", ErrMissingField)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
