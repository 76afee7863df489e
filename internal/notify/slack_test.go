package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/revguard/revguard/internal/database"
	"github.com/revguard/revguard/internal/services"
)

func TestNewSlackNotifier_RequiresTokenAndChannel(t *testing.T) {
	if n := NewSlackNotifier("", "#alerts"); n != nil {
		t.Error("expected nil notifier without token")
	}
	if n := NewSlackNotifier("xoxb-token", ""); n != nil {
		t.Error("expected nil notifier without channel")
	}
	if n := NewSlackNotifier("xoxb-token", "#alerts"); n == nil {
		t.Error("expected notifier when both are set")
	}
}

func TestFormatMessage(t *testing.T) {
	n := NewSlackNotifier("xoxb-token", "#alerts")

	event := services.LifecycleEvent{
		Type:       services.EventCaseCreated,
		CaseUUID:   uuid.NewString(),
		CaseNumber: "CASE-2026-0007",
		Title:      "CDR feed stalled",
		Severity:   database.AlertSeverityCritical,
		To:         database.CaseStatusOpen,
		Actor:      "system",
		Timestamp:  time.Now(),
	}

	msg := n.formatMessage(event)
	if !strings.Contains(msg, "CASE-2026-0007") {
		t.Errorf("expected case number in message, got %q", msg)
	}
	if !strings.Contains(msg, "CDR feed stalled") {
		t.Errorf("expected title in message, got %q", msg)
	}
	if !strings.Contains(msg, database.GetSeverityEmoji(database.AlertSeverityCritical)) {
		t.Errorf("expected severity emoji in message, got %q", msg)
	}
}

func TestFormatMessage_StatusChange(t *testing.T) {
	n := NewSlackNotifier("xoxb-token", "#alerts")

	event := services.LifecycleEvent{
		Type:       services.EventStatusChanged,
		CaseNumber: "CASE-2026-0008",
		From:       database.CaseStatusInProgress,
		To:         database.CaseStatusResolved,
		Actor:      "alice",
	}

	msg := n.formatMessage(event)
	if !strings.Contains(msg, string(database.CaseStatusResolved)) {
		t.Errorf("expected new status in message, got %q", msg)
	}
	if !strings.Contains(msg, "alice") {
		t.Errorf("expected actor in message, got %q", msg)
	}
}

func TestFormatMessage_SLABreach(t *testing.T) {
	n := NewSlackNotifier("xoxb-token", "#alerts")

	event := services.LifecycleEvent{
		Type:       services.EventSLABreached,
		CaseNumber: "CASE-2026-0009",
		Severity:   database.AlertSeverityHigh,
	}

	msg := n.formatMessage(event)
	if !strings.Contains(msg, ":rotating_light:") {
		t.Errorf("expected breach marker in message, got %q", msg)
	}
	if !strings.Contains(msg, "CASE-2026-0009") {
		t.Errorf("expected case number in message, got %q", msg)
	}
}
