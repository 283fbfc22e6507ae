package util

import (
	"reflect"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"", true, true},
		{"", false, false},
		{"banana", true, true},
		{" true ", false, true},
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		def   int
		want  int
	}{
		{"25", 0, 25},
		{" 587 ", 0, 587},
		{"", 25, 25},
		{"abc", 25, 25},
	}
	for _, tt := range tests {
		t.Setenv("TEST_INT", tt.value)
		if got := ParseIntEnv("TEST_INT", tt.def); got != tt.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseListEnv(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{"a@b.c", []string{"a@b.c"}},
		{"a@b.c, d@e.f", []string{"a@b.c", "d@e.f"}},
		{" , a@b.c ,, ", []string{"a@b.c"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Setenv("TEST_LIST", tt.value)
		if got := ParseListEnv("TEST_LIST"); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseListEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
