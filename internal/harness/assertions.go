package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion or expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Step, ev.Summary())
		}
	}
	return buf.String()
}

// Summary is a one-line description of ev for failure reports.
func (ev TraceEvent) Summary() string {
	switch ev.Op {
	case OpSubmit:
		s := fmt.Sprintf("submit %s -> %s %v", ev.Event, ev.State, ev.Received)
		if ev.Error != "" {
			s += " error: " + ev.Error
		}
		return s
	default:
		return fmt.Sprintf("%s %s removed=%t", ev.Op, ev.Target, ev.Removed)
	}
}

// checkExpect compares one submit step against its expectations and returns
// a message per mismatch.
func checkExpect(ev TraceEvent, want *Expect) []string {
	var errs []string
	fail := func(field, expected, actual string) {
		err := &AssertionError{
			Type:     fmt.Sprintf("steps[%d].expect.%s", ev.Step, field),
			Expected: expected,
			Actual:   actual,
		}
		errs = append(errs, err.Error())
	}

	if want.Received != nil && !slices.Equal(ev.Received, want.Received) {
		fail("received", fmt.Sprintf("%v", want.Received), fmt.Sprintf("%v", ev.Received))
	}
	if want.Discarded != nil && *want.Discarded != (ev.State == "discarded") {
		fail("discarded", fmt.Sprintf("%t", *want.Discarded), "state "+ev.State)
	}
	if want.Reason != nil && *want.Reason != ev.Reason {
		fail("reason", fmt.Sprintf("%q", *want.Reason), fmt.Sprintf("%q", ev.Reason))
	}
	if want.Error != nil {
		switch {
		case *want.Error == "" && ev.Error != "":
			fail("error", "success", ev.Error)
		case *want.Error != "" && !strings.Contains(ev.Error, *want.Error):
			fail("error", fmt.Sprintf("error containing %q", *want.Error), fmt.Sprintf("%q", ev.Error))
		}
	}
	if want.Involved != nil && !sameSet(ev.Involved, want.Involved) {
		fail("involved", fmt.Sprintf("%v", sorted(want.Involved)), fmt.Sprintf("%v", ev.Involved))
	}
	if want.Data != nil && !sameSet(ev.Data, want.Data) {
		fail("data", fmt.Sprintf("%v", sorted(want.Data)), fmt.Sprintf("%v", ev.Data))
	}
	return errs
}

// assertTraceContains checks that the listener received some submission,
// of the given event if one is named.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range trace {
		if ev.Op != OpSubmit || (assertion.Event != "" && ev.Event != assertion.Event) {
			continue
		}
		if slices.Contains(ev.Received, assertion.Listener) {
			return nil
		}
	}

	expected := fmt.Sprintf("listener %s invoked", assertion.Listener)
	if assertion.Event != "" {
		expected += " for " + assertion.Event
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that listeners were first invoked in the given
// order. Invocations need not be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	pos := 0
	for _, ev := range trace {
		for _, name := range ev.Received {
			pos++
			if positions[name] == 0 {
				positions[name] = pos
			}
		}
	}

	for _, name := range assertion.Listeners {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all listeners invoked: %v", assertion.Listeners),
				Actual:   fmt.Sprintf("missing listener: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Listeners); i++ {
		prev := assertion.Listeners[i-1]
		curr := assertion.Listeners[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("listeners in order: %v", assertion.Listeners),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks how many submissions the listener received.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if slices.Contains(ev.Received, assertion.Listener) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d invocations of %s", assertion.Count, assertion.Listener),
			Actual:   fmt.Sprintf("%d invocations", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalListeners checks the listeners registered after the last step,
// in delivery order.
func assertFinalListeners(listeners []string, assertion Assertion) error {
	want := assertion.Listeners
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(listeners, want) {
		return &AssertionError{
			Type:     AssertFinalListeners,
			Expected: fmt.Sprintf("%v", want),
			Actual:   fmt.Sprintf("%v", listeners),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalListeners:
			err = assertFinalListeners(result.Listeners, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func sameSet(a, b []string) bool {
	return slices.Equal(sorted(a), sorted(b))
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}
