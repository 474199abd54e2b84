// Package telemetry records condition tags and recording lifecycle events
// for the external analysis collaborators. Telemetry is best effort: a
// failed write is logged and never blocks the experiment timeline.
package telemetry

import (
	"time"

	"github.com/studyflowlab/studyflow/internal/sequence"
)

// Sink is the collaborator interface the sequencer reports into.
type Sink = sequence.Telemetry

// Nop discards all telemetry.
type Nop struct{}

func (Nop) SetTag(string)                                               {}
func (Nop) RecordingOpened(string)                                      {}
func (Nop) RecordingClosed(string, sequence.CloseReason, time.Duration) {}
