package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestModule_StringReturnsRegisteredName(t *testing.T) {
	if got := ModCPU.String(); got != "cpu" {
		t.Fatalf("ModCPU.String() got %q want %q", got, "cpu")
	}
}

func TestNewModule_RegistersAndReportsItsName(t *testing.T) {
	m := NewModule("custom")
	if got := m.String(); got != "custom" {
		t.Fatalf("NewModule(%q).String() got %q", "custom", got)
	}
}

func TestEntry_InfofWritesTaggedLineToOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	With(ModMapper).WithField("cart_type", 0x01).Infof("detected MBC1 cartridge")

	out := buf.String()
	if !strings.Contains(out, "detected MBC1 cartridge") {
		t.Fatalf("log output missing message: %q", out)
	}
	if !strings.Contains(out, "module=mapper") {
		t.Fatalf("log output missing module tag: %q", out)
	}
	if !strings.Contains(out, "cart_type=1") {
		t.Fatalf("log output missing field: %q", out)
	}
}

func TestSetLevel_SuppressesBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetLevel(InfoLevel)

	SetLevel(WarnLevel)
	With(ModCPU).Infof("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below the configured level, got %q", buf.String())
	}
}
