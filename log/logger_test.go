package log

import (
	"testing"

	"go.uber.org/zap"
)

func TestGetInstanceIsShared(t *testing.T) {
	if GetInstance() != GetInstance() {
		t.Error("Expected the same logger instance")
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	if !SetLevel("debug") {
		t.Fatal("Expected debug to be accepted")
	}
	if !GetInstance().Core().Enabled(zap.DebugLevel) {
		t.Error("Expected debug level enabled")
	}

	if SetLevel("chatty") {
		t.Error("Expected unknown level to be rejected")
	}
	if !GetInstance().Core().Enabled(zap.DebugLevel) {
		t.Error("Expected level unchanged after rejected name")
	}
}
