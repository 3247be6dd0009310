package overrider

import "github.com/standardbeagle/overrider/internal/highlight"

// Event is an outbound notification produced while handling a command.
type Event interface {
	isEvent()
}

// Emitter receives events synchronously, in order.
type Emitter func(Event)

// EditNodeEvent reports the selected node after a host mutation or click.
type EditNodeEvent struct {
	Snapshot NodeSnapshot
}

// SaveOverridesEvent carries every shadow record on save-node.
type SaveOverridesEvent struct {
	Dump Dump
}

// BoxEvent reports a highlight box change for the page agent to draw.
type BoxEvent struct {
	Box highlight.Box
}

// ApplyReportEvent summarises a bulk apply.
type ApplyReportEvent struct {
	Report ApplyReport
}

// EditingEvent reports that editing mode was switched on.
type EditingEvent struct {
	Enabled bool
}

func (EditNodeEvent) isEvent()      {}
func (SaveOverridesEvent) isEvent() {}
func (BoxEvent) isEvent()           {}
func (ApplyReportEvent) isEvent()   {}
func (EditingEvent) isEvent()       {}
