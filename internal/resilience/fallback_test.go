package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/pitchside-ai/pitchside/internal/resilience"
)

// fake is a provider stand-in whose calls are scripted per test.
type fake struct {
	name  string
	calls int
	fail  bool
}

func (f *fake) do() (string, error) {
	f.calls++
	if f.fail {
		return "", errTransient
	}
	return f.name, nil
}

func TestFallbackGroup_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	primary := &fake{name: "primary"}
	backup := &fake{name: "backup"}
	fg := resilience.NewFallbackGroup("primary", primary, resilience.FallbackConfig{})
	fg.AddFallback("backup", backup)

	got, err := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() })
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got != "primary" {
		t.Errorf("result = %q, want primary", got)
	}
	if backup.calls != 0 {
		t.Error("backup was called while primary is healthy")
	}
}

func TestFallbackGroup_FailoverToBackup(t *testing.T) {
	t.Parallel()

	primary := &fake{name: "primary", fail: true}
	backup := &fake{name: "backup"}
	fg := resilience.NewFallbackGroup("primary", primary, resilience.FallbackConfig{})
	fg.AddFallback("backup", backup)

	got, err := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() })
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if got != "backup" {
		t.Errorf("result = %q, want backup", got)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()

	fg := resilience.NewFallbackGroup("only", &fake{name: "only", fail: true}, resilience.FallbackConfig{})

	_, err := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() })
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTransient) {
		t.Error("ErrAllFailed does not wrap the last underlying error")
	}
}

func TestFallbackGroup_CooldownSkipsTrippedEntry(t *testing.T) {
	t.Parallel()

	primary := &fake{name: "primary", fail: true}
	backup := &fake{name: "backup"}
	fg := resilience.NewFallbackGroup("primary", primary, resilience.FallbackConfig{
		MaxFailures: 2,
		Cooldown:    time.Hour,
	})
	fg.AddFallback("backup", backup)

	// Trip the primary.
	for i := 0; i < 2; i++ {
		if _, err := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() }); err != nil {
			t.Fatalf("Execute %d returned error: %v", i, err)
		}
	}
	callsBefore := primary.calls

	// While cooling down the primary is not called at all.
	if _, err := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() }); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if primary.calls != callsBefore {
		t.Errorf("primary called %d times during cooldown, want 0", primary.calls-callsBefore)
	}
}

func TestFallbackGroup_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	primary := &fake{name: "primary", fail: true}
	fg := resilience.NewFallbackGroup("primary", primary, resilience.FallbackConfig{
		MaxFailures: 3,
		Cooldown:    time.Hour,
	})
	fg.AddFallback("backup", &fake{name: "backup"})

	// Two failures, then recovery.
	for i := 0; i < 2; i++ {
		resilience.Execute(fg, func(f *fake) (string, error) { return f.do() })
	}
	primary.fail = false
	if got, _ := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() }); got != "primary" {
		t.Fatalf("result = %q, want primary after recovery", got)
	}

	// The reset counter means two more failures do not trip the entry.
	primary.fail = true
	resilience.Execute(fg, func(f *fake) (string, error) { return f.do() })
	resilience.Execute(fg, func(f *fake) (string, error) { return f.do() })
	primary.fail = false
	if got, _ := resilience.Execute(fg, func(f *fake) (string, error) { return f.do() }); got != "primary" {
		t.Errorf("result = %q, want primary (failure count should have reset)", got)
	}
}
