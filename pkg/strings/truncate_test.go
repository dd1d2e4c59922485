package strings

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"exact length unchanged", "hello", 5, "hello"},
		{"long string truncated", "hello world this is a long string", 15, "hello world ..."},
		{"whitespace collapsed", "Jane's\n\n  iPhone", 20, "Jane's iPhone"},
		{"unicode safe", "Фотографии из отпуска", 10, "Фотогра..."},
		{"tiny max clamped", "abcdefgh", 1, "a..."},
		{"empty", "", 10, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestTruncateMiddle(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"IMG_0001.HEIC", 20, "IMG_0001.HEIC"},
		{"IMG_0001_20240101_120000.HEIC", 13, "IMG_0....HEIC"},
		{"abcdefghij", 7, "ab...ij"},
		{"abcdefghij", 2, "a..."},
	}
	for _, tt := range tests {
		if got := TruncateMiddle(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("TruncateMiddle(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}
