package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "clinic2", false},
		{"valid with hyphen", "night-shift", false},
		{"valid with underscore", "front_desk", false},
		{"valid single char", "a", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "front desk", true},
		{"dot", "front.desk", true},
		{"slash", "front/desk", true},
		{"too long", strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResolvePrefersFlag(t *testing.T) {
	if got := Resolve("night-shift"); got != "night-shift" {
		t.Errorf("Resolve(flag) = %q, want night-shift", got)
	}
}
