package router

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/status", []string{"/status"}},
		{"/track  NZ103   3600", []string{"/track", "NZ103", "3600"}},
		{`/track "NZ 103" --interval=1h`, []string{"/track", "NZ 103", "--interval=1h"}},
		{`/track 'a b' c\ d`, []string{"/track", "a b", "c d"}},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenizeCommandLine(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	pos, flags, bools := parseFlags([]string{"UAL1", "--interval", "1h", "-5", "--verbose", "--x=y"})
	if !reflect.DeepEqual(pos, []string{"UAL1", "-5"}) {
		t.Fatalf("pos=%q", pos)
	}
	if flags["interval"] != "1h" || flags["x"] != "y" {
		t.Fatalf("flags=%v", flags)
	}
	if !bools["verbose"] {
		t.Fatalf("bools=%v", bools)
	}
}

func TestCommandWord(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/track":                 "track",
		"/Track@flightwatch_bot": "track",
		"/help@x":                "help",
	}
	for in, want := range tests {
		if got := commandWord(in); got != want {
			t.Fatalf("commandWord(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := newReqID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
