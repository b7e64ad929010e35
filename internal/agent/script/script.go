// Package script defines the scripted-response format for the fixture
// agent binary: a JSON file mapping one-shot agent invocations to a
// deterministic outcome, loaded by cmd/thence-fixture-agent to stand in for
// a real LLM subprocess.
package script

import (
	"encoding/json"
	"fmt"
	"os"
)

// Script is a set of scripted responses keyed by "role:task_id:attempt",
// falling back to "role:task_id:*" and then "role:*" if no exact key
// matches (Lookup implements this fallback chain).
type Script struct {
	Responses map[string]ResponseTemplate `json:"responses"`
}

// ResponseTemplate describes one scripted invocation outcome.
type ResponseTemplate struct {
	ExitCode int            `json:"exit_code,omitempty"`
	DelayMs  int            `json:"delay_ms,omitempty"`
	Error    string         `json:"error,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
}

// Load reads a script from path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script JSON: %w", err)
	}
	if len(s.Responses) == 0 {
		return nil, fmt.Errorf("script has no responses defined")
	}
	return &s, nil
}

// Lookup finds the response template for one invocation, trying the exact
// key first, then wildcarding the attempt, then the task id.
func (s *Script) Lookup(role, taskID string, attempt int64) (ResponseTemplate, bool) {
	exact := fmt.Sprintf("%s:%s:%d", role, taskID, attempt)
	if tmpl, ok := s.Responses[exact]; ok {
		return tmpl, true
	}
	taskWildcard := fmt.Sprintf("%s:%s:*", role, taskID)
	if tmpl, ok := s.Responses[taskWildcard]; ok {
		return tmpl, true
	}
	roleWildcard := fmt.Sprintf("%s:*", role)
	tmpl, ok := s.Responses[roleWildcard]
	return tmpl, ok
}
