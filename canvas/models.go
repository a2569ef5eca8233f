package canvas

import (
	"encoding/json"
	"time"
)

type ElementType string

const (
	ElementStroke ElementType = "stroke"
	ElementShape  ElementType = "shape"
	ElementText   ElementType = "text"
	ElementGroup  ElementType = "group"
)

// Element is one canvas primitive. Data carries the type-specific
// payload (points, geometry, text, style) untouched; the engine only
// tracks the fields it needs for ordering and conflict resolution.
type Element struct {
	ID        string                 `json:"id"`
	Type      ElementType            `json:"type"`
	GroupID   string                 `json:"group_id,omitempty"`
	Version   int64                  `json:"version"`
	Visible   bool                   `json:"visible"`
	Locked    bool                   `json:"locked"`
	UpdatedBy string                 `json:"updated_by"`
	UpdatedAt time.Time              `json:"updated_at"`
	ZIndex    int                    `json:"z_index"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// clone copies an element deeply enough for command snapshots: the
// Data map is copied one level, which covers every field a patch can
// replace wholesale.
func (e *Element) clone() *Element {
	c := *e
	if e.Data != nil {
		c.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Canvas is the authoritative element set for one room. The order
// slice is the z-order, bottom first; ZIndex on each element mirrors
// its slice position and is renumbered after every reorder.
type Canvas struct {
	ID       string
	Elements map[string]*Element
	order    []string
}

func NewCanvas(id string) *Canvas {
	return &Canvas{
		ID:       id,
		Elements: make(map[string]*Element),
	}
}

// insert places the element at the given z position, or on top when
// index is out of range.
func (c *Canvas) insert(e *Element, index int) {
	c.Elements[e.ID] = e
	if index < 0 || index > len(c.order) {
		index = len(c.order)
	}
	c.order = append(c.order, "")
	copy(c.order[index+1:], c.order[index:])
	c.order[index] = e.ID
	c.renumber()
}

// remove drops the element and returns its z position, or -1 if it
// was not present.
func (c *Canvas) remove(id string) int {
	if _, ok := c.Elements[id]; !ok {
		return -1
	}
	delete(c.Elements, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.renumber()
			return i
		}
	}
	return -1
}

func (c *Canvas) indexOf(id string) int {
	for i, oid := range c.order {
		if oid == id {
			return i
		}
	}
	return -1
}

// moveTo shifts an element to a new z position, clamped to the slice
// bounds, and renumbers.
func (c *Canvas) moveTo(id string, to int) (from int, ok bool) {
	from = c.indexOf(id)
	if from < 0 {
		return -1, false
	}
	if to < 0 {
		to = 0
	}
	if to >= len(c.order) {
		to = len(c.order) - 1
	}
	if to == from {
		return from, true
	}
	c.order = append(c.order[:from], c.order[from+1:]...)
	c.order = append(c.order, "")
	copy(c.order[to+1:], c.order[to:])
	c.order[to] = id
	c.renumber()
	return from, true
}

func (c *Canvas) renumber() {
	for i, id := range c.order {
		c.Elements[id].ZIndex = i
	}
}

// Ordered returns the elements bottom-to-top.
func (c *Canvas) Ordered() []*Element {
	out := make([]*Element, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.Elements[id])
	}
	return out
}

// Snapshot serializes the full canvas state for sync frames and
// persistence.
func (c *Canvas) Snapshot() json.RawMessage {
	type snapshot struct {
		ID       string     `json:"id"`
		Elements []*Element `json:"elements"`
	}
	data, err := json.Marshal(snapshot{ID: c.ID, Elements: c.Ordered()})
	if err != nil {
		return nil
	}
	return data
}
