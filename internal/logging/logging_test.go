package logging

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		" WARN": zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
	if _, err := parseLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOperationError(t *testing.T) {
	base := errors.New("boom")
	if NewOperationError("op", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	err := fmt.Errorf("outer: %w", NewOperationError("cache.get", "req-1", base))
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := OperationOf(err); got != "cache.get" {
		t.Fatalf("unexpected operation %q", got)
	}
	if got := err.Error(); got != "outer: cache.get (request_id=req-1): boom" {
		t.Fatalf("unexpected message %q", got)
	}
}
