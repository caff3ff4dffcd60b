package downloaders

import (
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Main storyline", "Main_storyline"},
		{`a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"  lots   of\tspace \n", "lots_of_space"},
		{"Hidden segment: secret?", "Hidden_segment__secret_"},
		{"", "untitled"},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLegacyExtension(t *testing.T) {
	tests := map[string]string{
		"https://cdn/file.flv?e=1":  ".flv",
		"https://cdn/file.MP4":      ".mp4",
		"https://cdn/file.m4s#frag": ".flv",
		"https://cdn/file":          ".flv",
	}
	for in, want := range tests {
		if got := legacyExtension(in); got != want {
			t.Errorf("legacyExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := formatSpeed(2_000_000, time.Second); got != "2.0 MB/s" {
		t.Errorf("formatSpeed = %q", got)
	}
	if got := formatSpeed(10, 0); got != "0 B/s" {
		t.Errorf("formatSpeed with no elapsed time = %q", got)
	}
}
