package soft

import (
	"errors"
	"fmt"

	"github.com/gogpu/gcl/driver"
)

// ErrEncoderState is returned for out-of-order encoder calls.
var ErrEncoderState = errors.New("soft: encoder state")

// CommandKind identifies a recorded command.
type CommandKind int

// Command kinds.
const (
	CmdSetPipeline CommandKind = iota
	CmdSetBindGroup
	CmdDispatch
)

// Command is one recorded compute command.
type Command struct {
	Kind     CommandKind
	Pipeline string
	Index    uint32
	Group    string
	Groups   [3]uint32

	pipeline  *computePipeline
	bindGroup *bindGroup
}

// String returns a compact description such as "dispatch 4 1 1".
func (c Command) String() string {
	switch c.Kind {
	case CmdSetPipeline:
		return "set-pipeline " + c.Pipeline
	case CmdSetBindGroup:
		return fmt.Sprintf("set-bind-group %d %s", c.Index, c.Group)
	case CmdDispatch:
		return fmt.Sprintf("dispatch %d %d %d", c.Groups[0], c.Groups[1], c.Groups[2])
	default:
		return fmt.Sprintf("command(%d)", int(c.Kind))
	}
}

// CommandEncoder records commands between BeginEncoding and EndEncoding.
type CommandEncoder struct {
	resource
	recording bool
	pass      string
	commands  []Command
}

// BeginEncoding starts a recording.
func (e *CommandEncoder) BeginEncoding(label string) error {
	if e.recording {
		return fmt.Errorf("%w: BeginEncoding while recording", ErrEncoderState)
	}
	e.recording = true
	e.pass = label
	e.commands = nil
	return nil
}

// SetPipeline records a pipeline bind.
func (e *CommandEncoder) SetPipeline(p driver.ComputePipeline) {
	cp, _ := p.(*computePipeline)
	e.push(Command{Kind: CmdSetPipeline, Pipeline: p.Label(), pipeline: cp})
}

// SetBindGroup records a bind group bind.
func (e *CommandEncoder) SetBindGroup(index uint32, g driver.BindGroup) {
	bg, _ := g.(*bindGroup)
	e.push(Command{Kind: CmdSetBindGroup, Index: index, Group: g.Label(), bindGroup: bg})
}

// Dispatch records a dispatch.
func (e *CommandEncoder) Dispatch(x, y, z uint32) {
	e.push(Command{Kind: CmdDispatch, Groups: [3]uint32{x, y, z}})
}

func (e *CommandEncoder) push(c Command) {
	if !e.recording {
		driver.Logger().Warn("soft: command recorded outside BeginEncoding", "command", c.String())
		return
	}
	e.commands = append(e.commands, c)
}

// EndEncoding finishes the recording.
func (e *CommandEncoder) EndEncoding() (driver.CommandBuffer, error) {
	if !e.recording {
		return nil, fmt.Errorf("%w: EndEncoding without BeginEncoding", ErrEncoderState)
	}
	e.recording = false
	cb := &commandBuffer{resource: resource{e.pass}, commands: e.commands}
	e.commands = nil
	return cb, nil
}

// DiscardEncoding abandons the recording.
func (e *CommandEncoder) DiscardEncoding() {
	e.recording = false
	e.commands = nil
}
