package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mariozechner/guiding-agent/pkg/sandbox"
)

// Kind tags the payload held by a slot.
type Kind string

const (
	KindRawText  Kind = "raw_text"
	KindStepList Kind = "step_list"
	KindScript   Kind = "script"
	KindResult   Kind = "result"
)

// Slot is a named, typed position in a run's Context.
type Slot struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

func (s Slot) String() string { return s.Name + ":" + string(s.Kind) }

// Slots used by the default planner, synthesizer and runner stages.
var (
	SlotTask   = Slot{Name: "task", Kind: KindRawText}
	SlotSteps  = Slot{Name: "steps", Kind: KindStepList}
	SlotCode   = Slot{Name: "code", Kind: KindScript}
	SlotResult = Slot{Name: "result", Kind: KindResult}
)

// Artifact is the payload a stage writes into its output slot.
type Artifact struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
	// Result is set only on KindResult artifacts.
	Result *sandbox.Result `json:"result,omitempty"`
}

// Record is a slot together with the artifact written to it.
type Record struct {
	Slot     Slot     `json:"slot"`
	Artifact Artifact `json:"artifact"`
}

var (
	ErrSlotWritten     = errors.New("slot already written")
	ErrUndeclaredSlot  = errors.New("slot not declared")
	ErrKindMismatch    = errors.New("artifact kind does not match slot")
	ErrSlotNotReadable = errors.New("slot not readable")
)

// Context is the append-only artifact store shared by the stages of one run.
// Every declared slot can be written exactly once.
type Context struct {
	mu        sync.RWMutex
	declared  map[string]Slot
	order     []string
	artifacts map[string]Artifact
}

// NewContext returns an empty Context accepting writes to the given slots.
func NewContext(slots ...Slot) *Context {
	c := &Context{
		declared:  make(map[string]Slot, len(slots)),
		artifacts: make(map[string]Artifact, len(slots)),
	}
	for _, s := range slots {
		c.declared[s.Name] = s
	}
	return c
}

// Set writes a to the named slot.
func (c *Context) Set(name string, a Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.declared[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUndeclaredSlot, name)
	}
	if a.Kind != slot.Kind {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrKindMismatch, name, slot.Kind, a.Kind)
	}
	if _, ok := c.artifacts[name]; ok {
		return fmt.Errorf("%w: %s", ErrSlotWritten, name)
	}

	c.artifacts[name] = a
	c.order = append(c.order, name)
	return nil
}

// Get returns the artifact stored in the named slot.
func (c *Context) Get(name string) (Artifact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.artifacts[name]
	return a, ok
}

// Slots returns the names of written slots in write order.
func (c *Context) Slots() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Snapshot returns a copy of every written slot in write order.
func (c *Context) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]Record, 0, len(c.order))
	for _, name := range c.order {
		records = append(records, Record{Slot: c.declared[name], Artifact: c.artifacts[name]})
	}
	return records
}

// Inputs is the read-only view of a Context handed to a stage. Only the
// stage's declared input slots can be read.
type Inputs struct {
	ctx     *Context
	allowed map[string]bool
}

// NewInputs returns a view of c restricted to slots.
func NewInputs(c *Context, slots ...Slot) Inputs {
	allowed := make(map[string]bool, len(slots))
	for _, s := range slots {
		allowed[s.Name] = true
	}
	return Inputs{ctx: c, allowed: allowed}
}

// Get returns the artifact in slot. It fails if the slot was not declared as
// an input or has not been written yet.
func (in Inputs) Get(slot Slot) (Artifact, error) {
	if !in.allowed[slot.Name] || in.ctx == nil {
		return Artifact{}, fmt.Errorf("%w: %s is not an input of this stage", ErrSlotNotReadable, slot.Name)
	}
	a, ok := in.ctx.Get(slot.Name)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s has not been written", ErrSlotNotReadable, slot.Name)
	}
	return a, nil
}

// Text is Get followed by returning the artifact's text.
func (in Inputs) Text(slot Slot) (string, error) {
	a, err := in.Get(slot)
	if err != nil {
		return "", err
	}
	return a.Text, nil
}
