package logger

import (
	"fmt"
	"testing"
)

type recorder struct {
	lines []string
}

func (r *recorder) record(level, message string, keyvals []any) {
	r.lines = append(r.lines, fmt.Sprint(level, " ", message, " ", keyvals))
}

func (r *recorder) Log(m string, kv ...any)   { r.record("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.record("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.record("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.record("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.record("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.record("fatal", m, kv) }

func TestFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { Init() })

	Info("hello", "k", 1)
	Log("plain", "x", "y")

	for _, r := range []*recorder{a, b} {
		if len(r.lines) != 2 {
			t.Fatalf("expected 2 lines, got %v", r.lines)
		}
		if r.lines[0] != "info hello [k 1]" {
			t.Fatalf("unexpected line %q", r.lines[0])
		}
		if r.lines[1] != "log plain [x y]" {
			t.Fatalf("Log dropped keyvals: %q", r.lines[1])
		}
	}
}

func TestEntryPrependsKeyvals(t *testing.T) {
	r := &recorder{}
	Init(r)
	t.Cleanup(func() { Init() })

	e := With("session", "s1").With("attempt", 2)
	e.Warn("rejected", "violations", 3)

	if len(r.lines) != 1 || r.lines[0] != "warn rejected [session s1 attempt 2 violations 3]" {
		t.Fatalf("unexpected lines %v", r.lines)
	}
}
