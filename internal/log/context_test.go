// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithRunID(context.Background(), "run-123")
	ctx = ContextWithSession(ctx, "MAPP1234")

	if got := RunIDFromContext(ctx); got != "run-123" {
		t.Fatalf("run id: got %q", got)
	}
	if got := SessionFromContext(ctx); got != "MAPP1234" {
		t.Fatalf("session: got %q", got)
	}
}

func TestContextNilSafety(t *testing.T) {
	if got := RunIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Fatalf("expected empty run id from nil context, got %q", got)
	}
	if got := SessionFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty session, got %q", got)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRunID(context.Background(), "r1")
	ctx = ContextWithSession(ctx, "s1")

	logger := WithContext(ctx, base)
	logger.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry[FieldRunID] != "r1" {
		t.Errorf("expected run_id r1, got %v", entry[FieldRunID])
	}
	if entry[FieldSession] != "s1" {
		t.Errorf("expected session s1, got %v", entry[FieldSession])
	}
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithContext(context.Background(), base)
	logger.Info().Msg("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := entry[FieldRunID]; ok {
		t.Error("run_id should be absent")
	}
}
