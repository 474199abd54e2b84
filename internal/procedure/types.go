package procedure

// Kind identifies the type of a configured procedure occurrence.
type Kind string

const (
	KindConsent         Kind = "consent"
	KindSurvey          Kind = "survey"
	KindStressorTask    Kind = "stressor-task"
	KindScaleRating     Kind = "scale-rating"
	KindRoomObservation Kind = "room-observation"
	KindVRGuided        Kind = "vr-guided"
	KindGenericExternal Kind = "generic-external"
)

// Instance is one configured occurrence of a procedure in an experiment's
// ordered plan. Instances come from the authoring subsystem and are read-only
// here; the InstanceID is stable and never reused, and an InstanceID change is
// what tells the sequencer to reset, even between two instances of the same
// kind.
type Instance struct {
	InstanceID         string         `yaml:"instance_id" json:"instance_id"`
	Kind               Kind           `yaml:"kind" json:"kind"`
	Position           int            `yaml:"position" json:"position"`
	ConfiguredDuration int            `yaml:"configured_duration" json:"configured_duration"`
	Setup              bool           `yaml:"setup" json:"setup"`
	Parameters         map[string]any `yaml:"parameters" json:"parameters"`
}

// StepKind selects the action a Step performs.
type StepKind string

const (
	StepAudioCue        StepKind = "audio-cue"
	StepTimedWait       StepKind = "timed-wait"
	StepRecordingWindow StepKind = "recording-window"
)

// Step is a single executable unit derived from an Instance's parameters.
// Exactly one of {MediaRef set, TimedWait with TimeoutSeconds > 0,
// RecordingWindow} determines the action; anything else is rejected when the
// step list is built.
type Step struct {
	Index                    int
	Kind                     StepKind
	MediaRef                 string
	TimeoutSeconds           int
	RecordingDurationSeconds int
	WarningOffsetSeconds     int
	CueBeforeStart           bool
	CueAfterEnd              bool
}

// Tag returns the telemetry condition label for this step.
func (s Step) Tag() string {
	switch s.Kind {
	case StepAudioCue:
		return "cue:" + s.MediaRef
	case StepTimedWait:
		return "wait"
	case StepRecordingWindow:
		return "recording"
	default:
		return string(s.Kind)
	}
}
