// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("dispatch deadline exceeded")
	se := New(CodeTimeout, "step dispatch timed out", cause)

	if se.Code != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", se.Code)
	}
	if se.Message != "step dispatch timed out" {
		t.Errorf("expected message 'step dispatch timed out', got %q", se.Message)
	}
	if se.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(se, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	se := New(CodeCapabilityUnavailable, "no agent found", nil)
	se.WithContext("capability", "code_review").
		WithContext("min_version", "1.0")

	if se.Context["capability"] != "code_review" {
		t.Errorf("expected context capability to be 'code_review'")
	}
	if se.Context["min_version"] != "1.0" {
		t.Errorf("expected context min_version to be set")
	}
}

func TestRecoverableDefaults(t *testing.T) {
	tests := []struct {
		code        ErrorCode
		recoverable bool
	}{
		{CodeTimeout, true},
		{CodeCapabilityUnavailable, true},
		{CodeValidation, false},
		{CodeCyclicDependency, false},
		{CodeDuplicateID, false},
		{CodeVersionNotFound, false},
		{CodeInternal, false},
	}
	for _, tt := range tests {
		se := New(tt.code, "x", nil)
		if se.Recoverable != tt.recoverable {
			t.Errorf("%s: expected recoverable=%v", tt.code, tt.recoverable)
		}
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		se       *SemantError
		expected string
	}{
		{
			name:     "with cause",
			se:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			se:       New(CodeValidation, "subject is not a URI", nil),
			expected: "[VALIDATION_ERROR] subject is not a URI",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.se.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMarshalJSON(t *testing.T) {
	se := New(CodeNotFound, "agent not registered", nil).
		WithContext("agent_id", "a1")
	data, err := json.Marshal(se)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != string(CodeNotFound) {
		t.Errorf("expected code NOT_FOUND, got %v", out["code"])
	}
}

func TestAsSemantError(t *testing.T) {
	if AsSemantError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
	se := New(CodeDuplicateID, "id in use", nil)
	if AsSemantError(se) != se {
		t.Errorf("expected same error back")
	}
	wrapped := AsSemantError(errors.New("plain"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected plain error wrapped as internal, got %v", wrapped.Code)
	}
}

func TestIsCode(t *testing.T) {
	se := New(CodeVersionNotFound, "version pruned", nil)
	if !IsCode(se, CodeVersionNotFound) {
		t.Errorf("expected IsCode to match")
	}
	if IsCode(se, CodeTimeout) {
		t.Errorf("expected IsCode to reject other codes")
	}
	if IsCode(errors.New("plain"), CodeInternal) {
		t.Errorf("expected IsCode to reject untyped errors")
	}
}
