package bilibili

import (
	"errors"
	"testing"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		input string
		want  VideoRef
	}{
		{"BV1hm4y1U7qN", VideoRef{BVID: "BV1hm4y1U7qN"}},
		{"https://www.bilibili.com/video/BV1hm4y1U7qN", VideoRef{BVID: "BV1hm4y1U7qN"}},
		{"https://www.bilibili.com/video/BV1hm4y1U7qN/?spm_id_from=333.1007", VideoRef{BVID: "BV1hm4y1U7qN"}},
		{"av123456", VideoRef{AID: 123456}},
		{"https://www.bilibili.com/video/av170001", VideoRef{AID: 170001}},
		{"watch this: BV1hm4y1U7qN please", VideoRef{BVID: "BV1hm4y1U7qN"}},
	}

	for _, tt := range tests {
		got, err := Identify(tt.input)
		if err != nil {
			t.Errorf("Identify(%q) returned error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Identify(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestIdentifyFailures(t *testing.T) {
	for _, input := range []string{"not a url", "", "https://example.com/video/123", "java123"} {
		if _, err := Identify(input); !errors.Is(err, ErrIdentify) {
			t.Errorf("Identify(%q) error = %v, want ErrIdentify", input, err)
		}
	}
}

func TestIdentifyShortLink(t *testing.T) {
	_, err := Identify("https://b23.tv/abc123")
	if !errors.Is(err, ErrShortLink) {
		t.Fatalf("expected ErrShortLink, got %v", err)
	}
	if !errors.Is(err, ErrIdentify) {
		t.Fatalf("short link error should also be an identification failure")
	}
}

func TestVideoRefQuery(t *testing.T) {
	if q := (VideoRef{BVID: "BV1hm4y1U7qN", AID: 5}).Query(); q.Get("bvid") != "BV1hm4y1U7qN" || q.Has("aid") {
		t.Errorf("unexpected query %v", q)
	}
	if q := (VideoRef{AID: 42}).Query(); q.Get("aid") != "42" {
		t.Errorf("unexpected query %v", q)
	}
	if s := (VideoRef{AID: 42}).String(); s != "av42" {
		t.Errorf("String() = %q", s)
	}
}
