package caption

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Cue is a single timed caption entry. Offsets are in seconds; the
// timestamp strings are kept exactly as they appeared in the file.
type Cue struct {
	StartSeconds   float64 `json:"startSeconds"`
	EndSeconds     float64 `json:"endSeconds"`
	StartTimestamp string  `json:"startTimestamp"`
	EndTimestamp   string  `json:"endTimestamp"`
	Text           string  `json:"text"`
}

// ParseError reports a malformed caption file.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed caption file: line %d: %s", e.Line, e.Reason)
	}
	return "malformed caption file: " + e.Reason
}

const (
	header   = "WEBVTT"
	arrow    = "-->"
	maxLine  = 1 << 20
	byteMark = "\ufeff"
)

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	secondsPattern = regexp.MustCompile(`^[0-9]{2}([.,][0-9]{1,3})?$`)
)

type block struct {
	line  int
	lines []string
}

// Parse reads a WebVTT document and returns its cues in file order.
// Cues whose payload is empty after markup removal are dropped. A valid
// file without cues yields an empty slice and no error.
func Parse(r io.Reader) ([]Cue, error) {
	blocks, err := readBlocks(r)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, &ParseError{Line: 1, Reason: "empty file"}
	}

	first := strings.TrimPrefix(blocks[0].lines[0], byteMark)
	if blocks[0].line != 1 || !isHeader(first) {
		return nil, &ParseError{Line: blocks[0].line, Reason: "missing WEBVTT header"}
	}
	for i, l := range blocks[0].lines[1:] {
		if strings.Contains(l, arrow) {
			return nil, &ParseError{Line: blocks[0].line + i + 1, Reason: "missing blank line after WEBVTT header"}
		}
	}

	var cues []Cue
	for _, b := range blocks[1:] {
		if isMetadataBlock(b.lines[0]) {
			continue
		}
		cue, ok, err := parseBlock(b)
		if err != nil {
			return nil, err
		}
		if ok {
			cues = append(cues, cue)
		}
	}
	return cues, nil
}

// ParseTimestamp converts "hh:mm:ss.mmm" or "mm:ss.mmm" (comma also accepted
// as the fraction separator) to seconds. Seconds are two digits with an
// optional fraction of up to three digits.
func ParseTimestamp(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	var hours, minutes int
	var err error
	if len(parts) == 3 {
		if hours, err = parseUnit(parts[0]); err != nil {
			return 0, fmt.Errorf("invalid hours in %q", s)
		}
		parts = parts[1:]
	}
	if minutes, err = parseUnit(parts[0]); err != nil || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}

	if !secondsPattern.MatchString(parts[1]) {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}
	seconds, err := strconv.ParseFloat(strings.Replace(parts[1], ",", ".", 1), 64)
	if err != nil || seconds >= 60 {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}

	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}

func parseUnit(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a number")
		}
	}
	return strconv.Atoi(s)
}

func readBlocks(r io.Reader) ([]block, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var blocks []block
	var cur *block
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			cur = nil
			continue
		}
		if cur == nil {
			blocks = append(blocks, block{line: n})
			cur = &blocks[len(blocks)-1]
		}
		cur.lines = append(cur.lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading caption file: %w", err)
	}
	return blocks, nil
}

func isHeader(line string) bool {
	if !strings.HasPrefix(line, header) {
		return false
	}
	rest := line[len(header):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

func isMetadataBlock(first string) bool {
	for _, kw := range []string{"NOTE", "STYLE", "REGION"} {
		if first == kw || strings.HasPrefix(first, kw+" ") || strings.HasPrefix(first, kw+"\t") {
			return true
		}
	}
	return false
}

func parseBlock(b block) (Cue, bool, error) {
	timing := 0
	if !strings.Contains(b.lines[0], arrow) {
		// First line is a cue identifier.
		if len(b.lines) < 2 || !strings.Contains(b.lines[1], arrow) {
			return Cue{}, false, &ParseError{Line: b.line, Reason: "cue without timing line"}
		}
		timing = 1
	}

	lineNo := b.line + timing
	start, end, err := parseTiming(b.lines[timing])
	if err != nil {
		return Cue{}, false, &ParseError{Line: lineNo, Reason: err.Error()}
	}

	startSec, err := ParseTimestamp(start)
	if err != nil {
		return Cue{}, false, &ParseError{Line: lineNo, Reason: err.Error()}
	}
	endSec, err := ParseTimestamp(end)
	if err != nil {
		return Cue{}, false, &ParseError{Line: lineNo, Reason: err.Error()}
	}
	if endSec < startSec {
		return Cue{}, false, &ParseError{Line: lineNo, Reason: fmt.Sprintf("cue ends (%s) before it starts (%s)", end, start)}
	}

	text := payloadText(b.lines[timing+1:])
	if text == "" {
		return Cue{}, false, nil
	}

	return Cue{
		StartSeconds:   startSec,
		EndSeconds:     endSec,
		StartTimestamp: start,
		EndTimestamp:   end,
		Text:           text,
	}, true, nil
}

// parseTiming splits "start --> end [settings]" into its two timestamps.
func parseTiming(line string) (string, string, error) {
	left, right, _ := strings.Cut(line, arrow)
	start := strings.TrimSpace(left)
	fields := strings.Fields(right)
	if start == "" || len(fields) == 0 {
		return "", "", fmt.Errorf("invalid timing line %q", line)
	}
	return start, fields[0], nil
}

func payloadText(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(l, "")))
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}
