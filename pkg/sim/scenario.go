package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"causalmesh/pkg/fabric"
	"causalmesh/pkg/model"
)

// Scenario is a declarative simulation script, typically loaded from a
// YAML file. Steps run in order against a freshly built mesh.
type Scenario struct {
	Name  string   `yaml:"name"`
	Seed  int64    `yaml:"seed"`
	Nodes []string `yaml:"nodes"`
	Steps []Step   `yaml:"steps"`
}

// Step is one scripted action. Which fields apply depends on Action:
//
//	execute:    node, op, target, payload
//	disconnect: a, b
//	reconnect:  a, b
//	faults:     a, b, plus any of loss, latency_ms, jitter_ms,
//	            bandwidth_per_sec
//	sleep:      duration
//	converge:   timeout (default 5s)
type Step struct {
	Action  string         `yaml:"action"`
	Node    string         `yaml:"node"`
	Op      string         `yaml:"op"`
	Target  string         `yaml:"target"`
	Payload map[string]any `yaml:"payload"`

	A string `yaml:"a"`
	B string `yaml:"b"`

	Loss            *float64 `yaml:"loss"`
	LatencyMs       *uint32  `yaml:"latency_ms"`
	JitterMs        *uint32  `yaml:"jitter_ms"`
	BandwidthPerSec *uint32  `yaml:"bandwidth_per_sec"`

	Duration time.Duration `yaml:"duration"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Report summarizes a finished scenario run.
type Report struct {
	Name      string               `json:"name"`
	Nodes     []NodeReport         `json:"nodes"`
	Converged bool                 `json:"converged"`
	Conflicts []NodeConflictReport `json:"conflicts,omitempty"`
}

// NodeReport carries per-node end-of-run counters.
type NodeReport struct {
	ID         string            `json:"id"`
	Events     int               `json:"events"`
	Conflicts  int               `json:"conflicts"`
	ClockValue map[string]uint64 `json:"clock"`
	State      string            `json:"state"`
}

// NodeConflictReport lists one node's resolved conflicts.
type NodeConflictReport struct {
	Node    string                 `json:"node"`
	Records []model.ConflictRecord `json:"records"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Nodes) == 0 {
		return nil, fmt.Errorf("scenario %q declares no nodes", sc.Name)
	}
	return &sc, nil
}

// Run executes the scenario against a new mesh built from cfg, with
// the scenario's seed and nodes taking precedence over the config's.
func Run(sc *Scenario, cfg Config) (*Report, error) {
	cfg.Seed = sc.Seed
	s, err := New(cfg, sc.Nodes...)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	converged := false
	for i, step := range sc.Steps {
		if err := s.runStep(step, &converged); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}
	return s.report(sc.Name, converged), nil
}

func (s *Simulator) runStep(step Step, converged *bool) error {
	switch step.Action {
	case "execute":
		payload, err := model.PayloadFromMap(step.Payload)
		if err != nil {
			return err
		}
		_, err = s.Execute(step.Node, model.Operation(step.Op), step.Target, payload)
		return err
	case "disconnect":
		return s.Disconnect(step.A, step.B)
	case "reconnect":
		return s.Reconnect(step.A, step.B)
	case "faults":
		return s.SetLinkFaults(step.A, step.B, fabric.FaultUpdate{
			PacketLoss:      step.Loss,
			LatencyMs:       step.LatencyMs,
			JitterMs:        step.JitterMs,
			BandwidthPerSec: step.BandwidthPerSec,
		})
	case "sleep":
		time.Sleep(step.Duration)
		return nil
	case "converge":
		timeout := step.Timeout
		if timeout == 0 {
			timeout = 5 * time.Second
		}
		if err := s.WaitForConvergence(timeout); err != nil {
			return err
		}
		*converged = true
		return nil
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func (s *Simulator) report(name string, converged bool) *Report {
	rep := &Report{Name: name, Converged: converged}
	for _, id := range s.order {
		n := s.nodes[id]
		rep.Nodes = append(rep.Nodes, NodeReport{
			ID:         id,
			Events:     n.EventCount(),
			Conflicts:  n.ConflictCount(),
			ClockValue: n.ClockSnapshot(),
			State:      string(n.State()),
		})
		if recs := n.Conflicts(); len(recs) > 0 {
			rep.Conflicts = append(rep.Conflicts, NodeConflictReport{
				Node: id, Records: recs,
			})
		}
	}
	return rep
}
