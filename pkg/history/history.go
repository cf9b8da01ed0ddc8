// Package history implements undoable edits. Every change to cell contents
// or issue status goes through a Command pushed onto a History, so undo and
// redo always see a consistent table and issue store.
package history

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

var historyLog = log.New(os.Stderr, "[sheetqa:history] ", log.Ltime)

// DefaultMaxDepth is the number of commands kept on each stack. Older
// commands are dropped silently.
const DefaultMaxDepth = 500

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	// ErrStaleEdit is returned when a cell no longer holds the value an edit
	// expects to replace.
	ErrStaleEdit = errors.New("cell changed since the edit was prepared")
)

// PatchSink receives the durable record of cell edits. Undone patches are
// archived, not deleted, and restored on redo.
type PatchSink interface {
	WritePatch(p issue.Patch) error
	ArchivePatch(patchID string) error
	RestorePatch(patchID string) error
}

// ActionLog receives one audit entry per execute, undo and redo.
type ActionLog interface {
	AppendAction(e issue.ActionLogEntry) error
}

// Target is what a command operates on. It is passed to every call and never
// retained. Patches, Actions and Now are optional.
type Target struct {
	Table   table.Mutable
	Issues  *issue.Store
	Patches PatchSink
	Actions ActionLog
	Now     func() time.Time
}

func (t *Target) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Sink failures never abort a command: the edit already happened in memory.

func (t *Target) writePatch(p issue.Patch) {
	if t.Patches == nil {
		return
	}
	if err := t.Patches.WritePatch(p); err != nil {
		historyLog.Printf("write patch %s: %v", p.PatchID, err)
	}
}

func (t *Target) archivePatch(id string) {
	if t.Patches == nil {
		return
	}
	if err := t.Patches.ArchivePatch(id); err != nil {
		historyLog.Printf("archive patch %s: %v", id, err)
	}
}

func (t *Target) restorePatch(id string) {
	if t.Patches == nil {
		return
	}
	if err := t.Patches.RestorePatch(id); err != nil {
		historyLog.Printf("restore patch %s: %v", id, err)
	}
}

func (t *Target) logAction(e issue.ActionLogEntry) {
	if t.Actions == nil {
		return
	}
	if err := t.Actions.AppendAction(e); err != nil {
		historyLog.Printf("append action %s (%s): %v", e.ActionID, e.ActionType, err)
	}
}

// Command is an undoable edit. Execute runs once; afterwards Undo and Redo
// alternate. A command that returns an error leaves the target unchanged.
type Command interface {
	Execute(t *Target) error
	Undo(t *Target) error
	Redo(t *Target) error
	Description() string
	// Columns lists the columns whose cells the command changes, for
	// revalidation. Status-only commands return nil.
	Columns() []string
}

// History is a bounded pair of undo and redo stacks. It is not safe for
// concurrent use.
type History struct {
	maxDepth int
	undo     []Command
	redo     []Command
}

// New creates a history keeping at most maxDepth commands per stack. A
// non-positive depth means DefaultMaxDepth.
func New(maxDepth int) *History {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &History{maxDepth: maxDepth}
}

// Push executes cmd and makes it the most recent undoable command. A fresh
// command invalidates the redo branch. Nothing is recorded if cmd fails.
func (h *History) Push(t *Target, cmd Command) error {
	if err := cmd.Execute(t); err != nil {
		return err
	}
	h.undo = h.pushBounded(h.undo, cmd)
	clear(h.redo)
	h.redo = h.redo[:0]
	return nil
}

// Undo reverts the most recent command and returns it. With an empty stack it
// returns ErrNothingToUndo and changes nothing. A command that fails to undo
// stays on the undo stack.
func (h *History) Undo(t *Target) (Command, error) {
	if len(h.undo) == 0 {
		return nil, ErrNothingToUndo
	}
	cmd := h.undo[len(h.undo)-1]
	if err := cmd.Undo(t); err != nil {
		return cmd, fmt.Errorf("undo %s: %w", cmd.Description(), err)
	}
	h.undo[len(h.undo)-1] = nil
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = h.pushBounded(h.redo, cmd)
	return cmd, nil
}

// Redo re-applies the most recently undone command and returns it. With an
// empty stack it returns ErrNothingToRedo and changes nothing.
func (h *History) Redo(t *Target) (Command, error) {
	if len(h.redo) == 0 {
		return nil, ErrNothingToRedo
	}
	cmd := h.redo[len(h.redo)-1]
	if err := cmd.Redo(t); err != nil {
		return cmd, fmt.Errorf("redo %s: %w", cmd.Description(), err)
	}
	h.redo[len(h.redo)-1] = nil
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = h.pushBounded(h.undo, cmd)
	return cmd, nil
}

func (h *History) pushBounded(stack []Command, cmd Command) []Command {
	stack = append(stack, cmd)
	if over := len(stack) - h.maxDepth; over > 0 {
		copy(stack, stack[over:])
		clear(stack[len(stack)-over:])
		stack = stack[:len(stack)-over]
	}
	return stack
}

func (h *History) CanUndo() bool  { return len(h.undo) > 0 }
func (h *History) CanRedo() bool  { return len(h.redo) > 0 }
func (h *History) UndoCount() int { return len(h.undo) }
func (h *History) RedoCount() int { return len(h.redo) }
func (h *History) MaxDepth() int  { return h.maxDepth }

// UndoDescription describes the command Undo would revert.
func (h *History) UndoDescription() (string, bool) {
	if len(h.undo) == 0 {
		return "", false
	}
	return h.undo[len(h.undo)-1].Description(), true
}

// RedoDescription describes the command Redo would re-apply.
func (h *History) RedoDescription() (string, bool) {
	if len(h.redo) == 0 {
		return "", false
	}
	return h.redo[len(h.redo)-1].Description(), true
}

// Clear empties both stacks.
func (h *History) Clear() {
	h.undo = nil
	h.redo = nil
}
