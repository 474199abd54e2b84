package procedure

import (
	"fmt"
)

// DefaultWarningOffsetSeconds is the warning-cue offset applied to recording
// windows whose parameters do not configure one. Documented default; a value
// of 0 in the parameters explicitly disables the warning.
const DefaultWarningOffsetSeconds = 15

// BuildSteps derives the ordered executable step list from an instance's
// parameters. Invalid steps are rejected here, never skipped at runtime.
func BuildSteps(inst Instance) ([]Step, error) {
	if inst.InstanceID == "" {
		return nil, fmt.Errorf("instance at position %d has no instance_id", inst.Position)
	}
	if err := ValidateParameters(inst.Parameters); err != nil {
		return nil, fmt.Errorf("instance %s: %w", inst.InstanceID, err)
	}

	rawSteps, _ := inst.Parameters["steps"].([]any)
	steps := make([]Step, 0, len(rawSteps))
	for i, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("instance %s step %d: not a mapping", inst.InstanceID, i)
		}
		step := Step{
			Index:                    i,
			Kind:                     StepKind(stringParam(m, "kind")),
			MediaRef:                 stringParam(m, "media"),
			TimeoutSeconds:           intParam(m, "timeout_seconds"),
			RecordingDurationSeconds: intParam(m, "recording_duration_seconds"),
			CueBeforeStart:           boolParam(m, "cue_before_start"),
			CueAfterEnd:              boolParam(m, "cue_after_end"),
		}
		if step.Kind == StepRecordingWindow {
			if _, set := m["warning_offset_seconds"]; set {
				step.WarningOffsetSeconds = intParam(m, "warning_offset_seconds")
			} else {
				step.WarningOffsetSeconds = DefaultWarningOffsetSeconds
			}
		}
		if err := validateStep(step); err != nil {
			return nil, fmt.Errorf("instance %s step %d: %w", inst.InstanceID, i, err)
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("instance %s has no steps", inst.InstanceID)
	}
	return steps, nil
}

// validateStep enforces that exactly one action determines the step.
func validateStep(s Step) error {
	switch s.Kind {
	case StepAudioCue:
		if s.MediaRef == "" {
			return fmt.Errorf("audio-cue step requires media")
		}
	case StepTimedWait:
		if s.TimeoutSeconds <= 0 {
			return fmt.Errorf("timed-wait step requires timeout_seconds > 0")
		}
	case StepRecordingWindow:
		if s.RecordingDurationSeconds <= 0 {
			return fmt.Errorf("recording-window step requires recording_duration_seconds > 0")
		}
		// An offset of 0 or one at/past the duration disables the warning;
		// only negative values are authoring errors.
		if s.WarningOffsetSeconds < 0 {
			return fmt.Errorf("warning_offset_seconds must not be negative")
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

func stringParam(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intParam(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func boolParam(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
