package testutil

import "testing"

// phase labels a nested subtest so `go test -run` output reads as a scenario,
// e.g. "Given_a_leased_device/When_another_run_asks/Then_it_is_busy".
type phase string

const (
	given phase = "Given"
	when  phase = "When"
	then  phase = "Then"
	and   phase = "And"
)

func (p phase) run(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run(string(p)+" "+desc, fn)
}

// Given opens a scenario with its preconditions.
func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return given.run(t, desc, fn)
}

// When describes the action under test inside a Given.
func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return when.run(t, desc, fn)
}

// Then holds the assertions for the enclosing When.
func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return then.run(t, desc, fn)
}

// And chains an extra precondition or outcome onto any phase.
func And(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return and.run(t, desc, fn)
}
