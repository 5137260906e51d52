package v1alpha1

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestTime_MarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		time     Time
		expected string
	}{
		{
			name:     "zero time returns null",
			time:     Time{},
			expected: "null",
		},
		{
			name:     "valid time returns RFC3339",
			time:     Time{Time: time.Date(2025, 11, 3, 10, 30, 0, 0, time.UTC)},
			expected: `"2025-11-03T10:30:00Z"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.time.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON() error = %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("MarshalJSON() = %s, want %s", string(got), tt.expected)
			}
		})
	}
}

func TestTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantZero  bool
		wantError bool
	}{
		{
			name:     "null returns zero time",
			input:    "null",
			wantZero: true,
		},
		{
			name:     "empty string returns zero time",
			input:    `""`,
			wantZero: true,
		},
		{
			name:     "valid RFC3339 time",
			input:    `"2025-11-03T10:30:00Z"`,
			wantZero: false,
		},
		{
			name:      "invalid format errors",
			input:     `"not-a-time"`,
			wantError: true,
		},
		{
			name:      "invalid JSON errors",
			input:     `{invalid}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			err := got.UnmarshalJSON([]byte(tt.input))

			if tt.wantError {
				if err == nil {
					t.Error("UnmarshalJSON() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("UnmarshalJSON() unexpected error = %v", err)
			}

			if tt.wantZero {
				if !got.IsZero() {
					t.Errorf("UnmarshalJSON() expected zero time, got %v", got.Time)
				}
			} else {
				if got.IsZero() {
					t.Error("UnmarshalJSON() expected non-zero time, got zero")
				}
			}
		})
	}
}

func TestTime_JSON_RoundTrip(t *testing.T) {
	original := Time{Time: time.Date(2025, 11, 3, 10, 30, 45, 0, time.UTC)}

	// Marshal
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	// Unmarshal
	var decoded Time
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	// Compare (truncate to seconds since RFC3339 doesn't include nanoseconds by default)
	if !original.Truncate(time.Second).Equal(decoded.Truncate(time.Second)) {
		t.Errorf("Round trip failed: original = %v, decoded = %v", original, decoded)
	}
}

func TestTime_MarshalYAML(t *testing.T) {
	tests := []struct {
		name     string
		time     Time
		expected string
	}{
		{
			name:     "zero time returns nil",
			time:     Time{},
			expected: "null\n",
		},
		{
			name:     "valid time returns RFC3339",
			time:     Time{Time: time.Date(2025, 11, 3, 10, 30, 0, 0, time.UTC)},
			expected: "\"2025-11-03T10:30:00Z\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := yaml.Marshal(tt.time)
			if err != nil {
				t.Fatalf("MarshalYAML() error = %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("MarshalYAML() = %s, want %s", string(got), tt.expected)
			}
		})
	}
}

func TestTime_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantZero  bool
		wantError bool
	}{
		{
			name:     "null returns zero time",
			input:    "null",
			wantZero: true,
		},
		{
			name:     "empty string returns zero time",
			input:    "",
			wantZero: true,
		},
		{
			name:     "valid RFC3339 time",
			input:    "2025-11-03T10:30:00Z",
			wantZero: false,
		},
		{
			name:      "invalid format errors",
			input:     "not-a-time",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			err := yaml.Unmarshal([]byte(tt.input), &got)

			if tt.wantError {
				if err == nil {
					t.Error("UnmarshalYAML() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("UnmarshalYAML() unexpected error = %v", err)
			}

			if tt.wantZero {
				if !got.IsZero() {
					t.Errorf("UnmarshalYAML() expected zero time, got %v", got.Time)
				}
			} else {
				if got.IsZero() {
					t.Error("UnmarshalYAML() expected non-zero time, got zero")
				}
			}
		})
	}
}

func TestTime_YAML_RoundTrip(t *testing.T) {
	original := Time{Time: time.Date(2025, 11, 3, 10, 30, 45, 0, time.UTC)}

	// Marshal
	data, err := yaml.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	// Unmarshal
	var decoded Time
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	// Compare (truncate to seconds since RFC3339 doesn't include nanoseconds by default)
	if !original.Truncate(time.Second).Equal(decoded.Truncate(time.Second)) {
		t.Errorf("Round trip failed: original = %v, decoded = %v", original, decoded)
	}
}


func TestDuration_JSON(t *testing.T) {
	d := NewDuration(90 * time.Second)

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `"1m30s"` {
		t.Errorf("Marshal = %s, want \"1m30s\"", data)
	}

	var decoded Duration
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded.Duration != 90*time.Second {
		t.Errorf("decoded = %v, want 1m30s", decoded.Duration)
	}

	if err := json.Unmarshal([]byte(`"soon"`), &decoded); err == nil {
		t.Error("Unmarshal expected error for invalid duration")
	}
}

func TestDuration_YAML(t *testing.T) {
	type wrapper struct {
		Uptime *Duration `yaml:"uptime"`
	}

	data, err := yaml.Marshal(wrapper{Uptime: NewDuration(2 * time.Hour)})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != "uptime: 2h0m0s\n" {
		t.Errorf("Marshal = %q", data)
	}

	var decoded wrapper
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded.Uptime == nil || decoded.Uptime.Duration != 2*time.Hour {
		t.Errorf("decoded = %v, want 2h", decoded.Uptime)
	}
}

func TestConditionStatus_Constants(t *testing.T) {
	if ConditionTrue != "True" || ConditionFalse != "False" || ConditionUnknown != "Unknown" {
		t.Error("condition status constants changed")
	}
}
