package caption

import (
	"errors"
	"math"
	"strings"
	"testing"
)

const sampleVTT = `WEBVTT Kind: captions

NOTE recorded at the March cohort

1
00:00:01.000 --> 00:00:04.500 align:start position:0%
Welcome to the <v Instructor>Node.js</v> course.

00:00:04,500 --> 00:00:09,250
Today we look at
the event loop &amp; timers.

STYLE
::cue { color: white }

01:02.000 --> 01:03.000
Short form timestamp.
`

func TestParse_Basic(t *testing.T) {
	cues, err := Parse(strings.NewReader(sampleVTT))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 3 {
		t.Fatalf("len(cues) = %d, want 3", len(cues))
	}

	if cues[0].Text != "Welcome to the Node.js course." {
		t.Errorf("cues[0].Text = %q, want %q", cues[0].Text, "Welcome to the Node.js course.")
	}
	if cues[0].StartTimestamp != "00:00:01.000" || cues[0].EndTimestamp != "00:00:04.500" {
		t.Errorf("cues[0] timestamps = %q/%q, want 00:00:01.000/00:00:04.500", cues[0].StartTimestamp, cues[0].EndTimestamp)
	}
	if cues[0].EndSeconds != 4.5 {
		t.Errorf("cues[0].EndSeconds = %v, want 4.5", cues[0].EndSeconds)
	}

	if cues[1].Text != "Today we look at the event loop & timers." {
		t.Errorf("cues[1].Text = %q", cues[1].Text)
	}
	if cues[1].StartTimestamp != "00:00:04,500" {
		t.Errorf("cues[1].StartTimestamp = %q, want original comma form", cues[1].StartTimestamp)
	}
	if math.Abs(cues[1].EndSeconds-9.25) > 1e-9 {
		t.Errorf("cues[1].EndSeconds = %v, want 9.25", cues[1].EndSeconds)
	}

	if cues[2].StartSeconds != 62 {
		t.Errorf("cues[2].StartSeconds = %v, want 62", cues[2].StartSeconds)
	}
}

func TestParse_CRLFAndBOM(t *testing.T) {
	in := "\ufeffWEBVTT\r\n\r\n00:00:00.000 --> 00:00:01.000\r\nhello\r\n"
	cues, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 1 || cues[0].Text != "hello" {
		t.Fatalf("cues = %+v, want one cue with text hello", cues)
	}
}

func TestParse_NoCues(t *testing.T) {
	cues, err := Parse(strings.NewReader("WEBVTT\n\nNOTE nothing here yet\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 0 {
		t.Errorf("len(cues) = %d, want 0", len(cues))
	}
}

func TestParse_EmptyPayloadDropped(t *testing.T) {
	in := "WEBVTT\n\n00:00:00.000 --> 00:00:01.000\n<i></i>\n\n00:00:01.000 --> 00:00:02.000\nkept\n"
	cues, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 1 || cues[0].Text != "kept" {
		t.Errorf("cues = %+v, want only the non-empty cue", cues)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
	}{
		{"missing header", "00:00:00.000 --> 00:00:01.000\nhi\n", 1},
		{"empty", "", 1},
		{"no timing", "WEBVTT\n\nid-1\njust text\n", 3},
		{"bad timestamp", "WEBVTT\n\n00:00:xx.000 --> 00:00:01.000\nhi\n", 3},
		{"end before start", "WEBVTT\n\n00:00:05.000 --> 00:00:01.000\nhi\n", 3},
		{"missing end", "WEBVTT\n\n00:00:05.000 -->\nhi\n", 3},
		{"srt without header", "1\n00:00:00,000 --> 00:00:01,830\nhello\n", 1},
		{"cue glued to header", "WEBVTT\n00:00:01.000 --> 00:00:02.000\nhello\n", 2},
		{"cue glued to header text", "WEBVTT Kind: captions\nLanguage: en\n00:00:01.000 --> 00:00:02.000\nhello\n", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.in))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ParseError", err)
			}
			if pe.Line != tt.line {
				t.Errorf("ParseError.Line = %d, want %d", pe.Line, tt.line)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"00:00:00.000", 0, true},
		{"01:02:03.500", 3723.5, true},
		{"00:10:00,250", 600.25, true},
		{"02:03.000", 123, true},
		{"1:00:00.000", 3600, true},
		{"00:60:00.000", 0, false},
		{"00:00:61.000", 0, false},
		{"abc", 0, false},
		{"00:00:-1.000", 0, false},
		{"", 0, false},
		{"00:00:0x1p-2", 0, false},
		{"00:00:5e1", 0, false},
		{"00:00:1_0", 0, false},
		{"00:00:1.000", 0, false},
		{"00:00:01.0000", 0, false},
		{"00:00:01", 1, true},
		{"00:00:01,5", 1.5, true},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if tt.ok && err != nil {
			t.Errorf("ParseTimestamp(%q) error: %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("ParseTimestamp(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
