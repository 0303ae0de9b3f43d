package config

import (
	"testing"
	"time"
)

func TestString_Fallback(t *testing.T) {
	t.Setenv("MEDIX_TEST_STRING", "")
	if got := String("MEDIX_TEST_STRING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("MEDIX_TEST_STRING", "  value ")
	if got := String("MEDIX_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestPort_Invalid(t *testing.T) {
	t.Setenv("MEDIX_TEST_PORT", "70000")
	if _, err := Port("MEDIX_TEST_PORT", "8080"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestFloat_Range(t *testing.T) {
	t.Setenv("MEDIX_TEST_FRACTION", "0.8")
	f, err := Float("MEDIX_TEST_FRACTION", 0, 0, 1)
	if err != nil || f != 0.8 {
		t.Fatalf("expected 0.8, got %v (err=%v)", f, err)
	}
	t.Setenv("MEDIX_TEST_FRACTION", "1.5")
	if _, err := Float("MEDIX_TEST_FRACTION", 0, 0, 1); err == nil {
		t.Fatal("expected error for fraction above 1")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("MEDIX_TEST_DURATION", "")
	d, err := Duration("MEDIX_TEST_DURATION", 15*time.Minute)
	if err != nil || d != 15*time.Minute {
		t.Fatalf("expected fallback 15m, got %v (err=%v)", d, err)
	}
	t.Setenv("MEDIX_TEST_DURATION", "24h")
	d, err = Duration("MEDIX_TEST_DURATION", 0)
	if err != nil || d != 24*time.Hour {
		t.Fatalf("expected 24h, got %v (err=%v)", d, err)
	}
	t.Setenv("MEDIX_TEST_DURATION", "soon")
	if _, err := Duration("MEDIX_TEST_DURATION", 0); err == nil {
		t.Fatal("expected parse error")
	}
}
