package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := log
	log = zap.New(core).Sugar()
	defer func() { log = prev }()

	child := With("activity_id", 7)
	child.Infow("Reputation applied", "amount", 10)
	Info("plain")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["activity_id"] != int64(7) || fields["amount"] != int64(10) {
		t.Errorf("unexpected fields: %v", fields)
	}
	if _, ok := entries[1].ContextMap()["activity_id"]; ok {
		t.Error("With must not leak fields into the package logger")
	}
}
