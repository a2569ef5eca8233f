package canvas

// Command is the closed set of invertible canvas mutations. Variants
// carry both the forward data and whatever is needed to invert; the
// engine applies and inverts them with a single type switch.
type Command interface {
	command()
}

// AddCommand records an element creation. Inverse: remove it.
type AddCommand struct {
	Element *Element
}

// DeleteCommand records a removal with the full snapshot and z
// position so undo can re-insert the element exactly where it was.
type DeleteCommand struct {
	Element *Element
	Index   int
}

// UpdateCommand records a field patch. Before holds the prior value of
// every patched field (nil value means the field was absent), plus the
// prior visibility, lock, and group state when those changed.
type UpdateCommand struct {
	ElementID string
	Before    *Element
	After     *Element
}

// ReorderCommand records a z-order move.
type ReorderCommand struct {
	ElementID string
	From      int
	To        int
}

// GroupCommand records grouping: the synthetic group element plus each
// member's previous group id.
type GroupCommand struct {
	Group       *Element
	Members     []string
	PriorGroups map[string]string
}

// UngroupCommand records dissolving a group.
type UngroupCommand struct {
	Group   *Element
	Index   int
	Members []string
}

func (AddCommand) command()     {}
func (DeleteCommand) command()  {}
func (UpdateCommand) command()  {}
func (ReorderCommand) command() {}
func (GroupCommand) command()   {}
func (UngroupCommand) command() {}

// History is a linear command sequence with a cursor. commands[:cursor]
// are applied; commands[cursor:] is the redo tail. Pushing after an
// undo discards the tail.
type History struct {
	commands []Command
	cursor   int
}

func (h *History) Push(c Command) {
	h.commands = append(h.commands[:h.cursor], c)
	h.cursor = len(h.commands)
}

// Undo steps the cursor back and returns the command to invert.
func (h *History) Undo() (Command, bool) {
	if h.cursor == 0 {
		return nil, false
	}
	h.cursor--
	return h.commands[h.cursor], true
}

// Redo steps the cursor forward and returns the command to re-apply.
func (h *History) Redo() (Command, bool) {
	if h.cursor >= len(h.commands) {
		return nil, false
	}
	c := h.commands[h.cursor]
	h.cursor++
	return c, true
}

func (h *History) CanUndo() bool { return h.cursor > 0 }
func (h *History) CanRedo() bool { return h.cursor < len(h.commands) }
