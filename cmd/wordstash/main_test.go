package main

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestIntEnv(t *testing.T) {
	logger := zap.NewNop()

	if got := intEnv(logger, "WORDSTASH_TEST_UNSET", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}

	t.Setenv("WORDSTASH_TEST_INT", "42")
	if got := intEnv(logger, "WORDSTASH_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}

	t.Setenv("WORDSTASH_TEST_INT", "not-a-number")
	if got := intEnv(logger, "WORDSTASH_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback on parse failure, got %d", got)
	}
}

func TestInt64Env(t *testing.T) {
	logger := zap.NewNop()

	t.Setenv("WORDSTASH_TEST_INT64", "1048576")
	if got := int64Env(logger, "WORDSTASH_TEST_INT64", 0); got != 1<<20 {
		t.Fatalf("expected 1048576, got %d", got)
	}

	t.Setenv("WORDSTASH_TEST_INT64", "oops")
	if got := int64Env(logger, "WORDSTASH_TEST_INT64", 99); got != 99 {
		t.Fatalf("expected fallback on parse failure, got %d", got)
	}
}

func TestDurationEnv(t *testing.T) {
	logger := zap.NewNop()

	if got := durationEnv(logger, "WORDSTASH_TEST_UNSET", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}

	t.Setenv("WORDSTASH_TEST_DURATION", "2500ms")
	if got := durationEnv(logger, "WORDSTASH_TEST_DURATION", time.Second); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %s", got)
	}

	t.Setenv("WORDSTASH_TEST_DURATION", "fast")
	if got := durationEnv(logger, "WORDSTASH_TEST_DURATION", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback on parse failure, got %s", got)
	}
}
