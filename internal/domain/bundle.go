package domain

import "sort"

// Bundle is an ordered, eventually-immutable group of commands destined for
// one network request. Commands accumulate in insertion order; Freeze sorts
// them by creation timestamp and blocks further appends. A frozen bundle is
// handed to its delegate exactly once and never reused.
type Bundle struct {
	commands []*Command
	frozen   bool
}

// NewBundle returns an empty, unfrozen bundle.
func NewBundle() *Bundle {
	return &Bundle{}
}

// Append adds a command to the bundle. Appending to a frozen bundle is a
// programming error and reports ErrBundleFrozen.
func (b *Bundle) Append(c *Command) error {
	if b.frozen {
		return ErrBundleFrozen
	}
	b.commands = append(b.commands, c)
	return nil
}

// Freeze sorts the bundle by command creation timestamp ascending and marks
// it immutable. Freezing twice is a no-op.
func (b *Bundle) Freeze() {
	if b.frozen {
		return
	}
	sort.SliceStable(b.commands, func(i, j int) bool {
		return b.commands[i].CreatedAt.Before(b.commands[j].CreatedAt)
	})
	b.frozen = true
}

// IsFrozen reports whether the bundle has been sealed.
func (b *Bundle) IsFrozen() bool {
	return b.frozen
}

// Commands returns the bundle's commands. The slice must not be mutated by
// callers once the bundle is frozen.
func (b *Bundle) Commands() []*Command {
	return b.commands
}

// Size returns the number of commands in the bundle.
func (b *Bundle) Size() int {
	return len(b.commands)
}

// First returns the first command, or nil for an empty bundle. The bundler's
// boundary rules key off the first command's visitor and scene.
func (b *Bundle) First() *Command {
	if len(b.commands) == 0 {
		return nil
	}
	return b.commands[0]
}
