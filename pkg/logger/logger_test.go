package logger

import "testing"

func TestNoOpLoggerDoesNothing(t *testing.T) {
	var l ComponentAwareLogger = NoOpLogger{}
	l.Info("hello", map[string]interface{}{"k": "v"})
	l.WithComponent("dispatch").Error("boom", nil)
}

func TestSimpleLoggerRespectsLevel(t *testing.T) {
	l := NewSimpleLogger()
	l.level = WarnLevel
	// Below the configured level: should not panic, output is not asserted
	// (SimpleLogger writes to the stdlib log package, not a capturable sink).
	l.Debug("skipped", nil)
	l.Warn("kept", map[string]interface{}{"attempt": 1})
}

func TestWithComponentTagsSubsequentLines(t *testing.T) {
	l := NewSimpleLogger().WithComponent("chain")
	sl, ok := l.(*SimpleLogger)
	if !ok {
		t.Fatalf("expected *SimpleLogger, got %T", l)
	}
	if sl.component != "chain" {
		t.Fatalf("expected component 'chain', got %q", sl.component)
	}
}
