package procedure

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Plan is the ordered list of procedure instances for one experiment, as
// exported by the authoring subsystem.
type Plan struct {
	Experiment string     `yaml:"experiment"`
	Instances  []Instance `yaml:"instances"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Instances) == 0 {
		return nil, fmt.Errorf("plan %s contains no instances", path)
	}

	sort.Slice(plan.Instances, func(i, j int) bool {
		return plan.Instances[i].Position < plan.Instances[j].Position
	})

	seen := make(map[string]bool, len(plan.Instances))
	for i, inst := range plan.Instances {
		if inst.InstanceID == "" {
			return nil, fmt.Errorf("plan instance at position %d has no instance_id", inst.Position)
		}
		if seen[inst.InstanceID] {
			return nil, fmt.Errorf("duplicate instance_id %s", inst.InstanceID)
		}
		seen[inst.InstanceID] = true
		if inst.Position != i {
			return nil, fmt.Errorf("plan positions are not contiguous: instance %s at position %d, expected %d", inst.InstanceID, inst.Position, i)
		}
	}
	return &plan, nil
}

// LastRunnableIndex returns the position of the last non-setup instance, or
// -1 when the plan is all setup. Once the current procedure moves past it the
// session is complete for the participant client.
func (p *Plan) LastRunnableIndex() int {
	last := -1
	for _, inst := range p.Instances {
		if !inst.Setup {
			last = inst.Position
		}
	}
	return last
}

// InstanceAt returns the instance at the given position.
func (p *Plan) InstanceAt(index int) (Instance, bool) {
	if index < 0 || index >= len(p.Instances) {
		return Instance{}, false
	}
	return p.Instances[index], true
}
