package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tangle/internal/demo"
)

// Scenario is a test scenario for dispatch behavior.
//
// Scenarios are loaded from YAML files and register listeners on a fresh
// engine, then run steps in order, checking each step's expectations.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// IDPrefix prefixes the deterministic submission IDs (prefix-1,
	// prefix-2, ...). Defaults to "sub".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// Listeners are registered in order before the first step.
	Listeners []ListenerSpec `yaml:"listeners,omitempty"`

	// Steps run sequentially; each waits for its submission to finish.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated against the whole trace after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ListenerSpec describes one listener of a scenario.
type ListenerSpec struct {
	// Name identifies the listener in expectations, assertions and traces.
	Name string `yaml:"name"`

	// On is an event kind (see demo.Kinds), "entity" or "any".
	On string `yaml:"on"`

	Priority int    `yaml:"priority,omitempty"`
	Owner    string `yaml:"owner,omitempty"`
	Once     bool   `yaml:"once,omitempty"`

	// To lists refs ("kind:id") the event must involve.
	To []string `yaml:"to,omitempty"`

	// MatchText adds a filter accepting only messages whose text contains it.
	MatchText string `yaml:"match_text,omitempty"`

	// Action is what the handler does. Defaults to record.
	Action string `yaml:"action,omitempty"`

	// Reason is the discard reason, or the failure/panic message.
	Reason string `yaml:"reason,omitempty"`
}

// Handler actions.
const (
	ActionRecord    = "record"
	ActionDiscard   = "discard"
	ActionFail      = "fail"
	ActionPanic     = "panic"
	ActionSpawn     = "spawn"
	ActionSpawnFail = "spawn_fail"
	ActionAwait     = "await"
)

// Step is one scenario step. Exactly one of Submit, Unregister and
// UnregisterOwner is set.
type Step struct {
	Submit          *demo.EventSpec `yaml:"submit,omitempty"`
	Expect          *Expect         `yaml:"expect,omitempty"`
	Unregister      string          `yaml:"unregister,omitempty"`
	UnregisterOwner string          `yaml:"unregister_owner,omitempty"`
}

// Op returns the step's operation name.
func (s Step) Op() string {
	switch {
	case s.Submit != nil:
		return OpSubmit
	case s.Unregister != "":
		return OpUnregister
	case s.UnregisterOwner != "":
		return OpUnregisterOwner
	default:
		return ""
	}
}

// Step operations.
const (
	OpSubmit          = "submit"
	OpUnregister      = "unregister"
	OpUnregisterOwner = "unregister_owner"
)

// Expect is the expected outcome of a submit step. Unset fields are not
// checked.
type Expect struct {
	// Received lists listener names in invocation order. An empty list
	// expects no listener at all.
	Received []string `yaml:"received,omitempty"`

	Discarded *bool   `yaml:"discarded,omitempty"`
	Reason    *string `yaml:"reason,omitempty"`

	// Error is a substring of the submission error. An empty string expects
	// success.
	Error *string `yaml:"error,omitempty"`

	// Involved lists refs of the involvement set, in any order.
	Involved []string `yaml:"involved,omitempty"`

	// Data lists the names stored in the DataBag, in any order.
	Data []string `yaml:"data,omitempty"`
}

// Assertion types evaluated over the whole trace.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertFinalListeners = "final_listeners"
)

// Assertion is a check on the complete trace.
type Assertion struct {
	Type string `yaml:"type"`

	// Listener is used by trace_contains and trace_count.
	Listener string `yaml:"listener,omitempty"`

	// Event optionally restricts trace_contains to one event ref.
	Event string `yaml:"event,omitempty"`

	// Listeners is used by trace_order and final_listeners.
	Listeners []string `yaml:"listeners,omitempty"`

	// Count is used by trace_count.
	Count int `yaml:"count,omitempty"`
}

// LoadScenario reads, schema-checks and parses a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. The document is checked against the
// scenario schema first, then decoded strictly and validated.
func ParseScenario(data []byte) (*Scenario, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks what the schema cannot: cross references between
// listeners, steps and assertions.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Listeners))
	for i, l := range s.Listeners {
		if err := validateListener(i, l); err != nil {
			return err
		}
		if names[l.Name] {
			return fmt.Errorf("listeners[%d]: duplicate name %q", i, l.Name)
		}
		names[l.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, names); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, names); err != nil {
			return err
		}
	}
	return nil
}

func validateListener(index int, l ListenerSpec) error {
	if l.Name == "" {
		return fmt.Errorf("listeners[%d]: name is required", index)
	}
	if _, err := demo.TypeOf(l.On); err != nil {
		return fmt.Errorf("listeners[%d]: %w", index, err)
	}
	for _, ref := range l.To {
		if _, err := demo.ParseRef(ref); err != nil {
			return fmt.Errorf("listeners[%d].to: %w", index, err)
		}
	}
	switch l.Action {
	case "", ActionRecord, ActionDiscard, ActionFail, ActionPanic, ActionSpawn, ActionSpawnFail, ActionAwait:
	default:
		return fmt.Errorf("listeners[%d]: unknown action %q", index, l.Action)
	}
	return nil
}

func validateStep(index int, step Step, listeners map[string]bool) error {
	ops := 0
	if step.Submit != nil {
		ops++
	}
	if step.Unregister != "" {
		ops++
	}
	if step.UnregisterOwner != "" {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("steps[%d]: exactly one of submit, unregister, unregister_owner is required", index)
	}

	if step.Expect != nil && step.Submit == nil {
		return fmt.Errorf("steps[%d]: expect is only allowed on submit", index)
	}
	if step.Unregister != "" && !listeners[step.Unregister] {
		return fmt.Errorf("steps[%d]: unknown listener %q", index, step.Unregister)
	}
	if step.Expect != nil {
		for _, name := range step.Expect.Received {
			if !listeners[name] {
				return fmt.Errorf("steps[%d].expect.received: unknown listener %q", index, name)
			}
		}
		for _, ref := range step.Expect.Involved {
			if _, err := demo.ParseRef(ref); err != nil {
				return fmt.Errorf("steps[%d].expect.involved: %w", index, err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, listeners map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	known := func(names ...string) error {
		for _, name := range names {
			if !listeners[name] {
				return fmt.Errorf("assertions[%d]: unknown listener %q", index, name)
			}
		}
		return nil
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Listener == "" {
			return fmt.Errorf("assertions[%d]: listener is required for trace_contains", index)
		}
		return known(a.Listener)
	case AssertTraceOrder:
		if len(a.Listeners) == 0 {
			return fmt.Errorf("assertions[%d]: listeners list is required for trace_order", index)
		}
		return known(a.Listeners...)
	case AssertTraceCount:
		if a.Listener == "" {
			return fmt.Errorf("assertions[%d]: listener is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
		return known(a.Listener)
	case AssertFinalListeners:
		return known(a.Listeners...)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
