// Package transcript formats events, task rows and artifact sizes for human
// console output; `thence inspect` uses FormatSnapshot for its task table.
package transcript

import (
	"fmt"
	"strings"

	"github.com/iambrandonn/thence/internal/domain"
)

// Formatter formats domain events for console output.
type Formatter struct{}

// NewFormatter creates a new transcript formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatEvent renders one event as a single console line.
func (f *Formatter) FormatEvent(ev domain.Event) string {
	actor := string(ev.ActorRole)
	if actor == "" {
		actor = "system"
	}

	var details string
	switch ev.EventType {
	case domain.TaskRegistered:
		if objective, ok := ev.Payload["objective"].(string); ok {
			details = fmt.Sprintf("objective: %s", objective)
		}

	case domain.TaskClaimed, domain.WorkSubmitted, domain.ReviewRequested, domain.ReviewApproved, domain.MergeSucceeded, domain.TaskClosed:
		if ev.Attempt > 0 {
			details = fmt.Sprintf("attempt %d", ev.Attempt)
		}

	case domain.ReviewFoundIssues:
		source, _ := ev.Payload["source"].(string)
		findings, _ := ev.Payload["findings"].([]string)
		details = fmt.Sprintf("source: %s, findings: %d", source, len(findings))

	case domain.ChecksReported:
		passed, _ := ev.Payload["passed"].(bool)
		details = fmt.Sprintf("passed: %t", passed)

	case domain.TaskFailedTerminal:
		reason, _ := ev.Payload["reason"].(string)
		details = fmt.Sprintf("reason: %s", reason)

	case domain.SpecQuestionOpened, domain.ChecksQuestionOpened:
		qid, _ := ev.Payload["question_id"].(string)
		text, _ := ev.Payload["text"].(string)
		details = fmt.Sprintf("%s: %s", qid, text)

	case domain.RunCompleted, domain.RunFailed, domain.RunCancelled:
		if reason, ok := ev.Payload["reason"].(string); ok && reason != "" {
			details = fmt.Sprintf("reason: %s", reason)
		}
	}

	taskPart := ""
	if ev.TaskID != "" {
		taskPart = fmt.Sprintf(" task=%s", ev.TaskID)
	}

	if details != "" {
		return fmt.Sprintf("[%04d] [%s]%s %s: %s", ev.Seq, actor, taskPart, ev.EventType, details)
	}
	return fmt.Sprintf("[%04d] [%s]%s %s", ev.Seq, actor, taskPart, ev.EventType)
}

// FormatSnapshot renders a short one-line summary for one task row, used by
// `thence inspect`'s task table.
func (f *Formatter) FormatSnapshot(id string, attempts, latestAttempt int64, closed, terminalFailed, claimed bool) string {
	state := "pending"
	switch {
	case closed:
		state = "closed"
	case terminalFailed:
		state = "failed"
	case claimed:
		state = "claimed"
	}
	return fmt.Sprintf("%-24s attempts=%d/%d %s", id, attempts, latestAttempt, state)
}

// formatSize formats a byte size in binary units (B, KiB, MiB, GiB).
func (f *Formatter) formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatArtifactSize renders a file path followed by its human-readable
// size in parentheses.
func (f *Formatter) FormatArtifactSize(path string, size int64) string {
	return strings.TrimSpace(fmt.Sprintf("%s (%s)", path, f.formatSize(size)))
}
