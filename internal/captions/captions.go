// Package captions parses WebVTT and SRT subtitle files into cues and
// formats them as plain-text transcripts.
package captions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cue is one subtitle entry.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// inlineTags matches WebVTT inline markup such as <c>, </c> and the
// word-level timing tags <00:00:01.280> that auto-generated captions carry.
var inlineTags = regexp.MustCompile(`<[^>]*>`)

// ParseVTT parses a WebVTT document. Header, NOTE and STYLE blocks are
// skipped; cue settings after the timing line are ignored.
func ParseVTT(data string) ([]Cue, error) {
	if !strings.HasPrefix(strings.TrimSpace(data), "WEBVTT") {
		return nil, fmt.Errorf("not a WebVTT document")
	}

	var cues []Cue
	lines := strings.Split(normalizeNewlines(data), "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.Contains(line, "-->") {
			continue
		}

		parts := strings.SplitN(line, "-->", 2)
		start, err := parseTimestamp(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("cue timing %q: %w", line, err)
		}
		// Cue settings may trail the end timestamp.
		endField := strings.Fields(strings.TrimSpace(parts[1]))
		if len(endField) == 0 {
			return nil, fmt.Errorf("cue timing %q: missing end timestamp", line)
		}
		end, err := parseTimestamp(endField[0])
		if err != nil {
			return nil, fmt.Errorf("cue timing %q: %w", line, err)
		}

		var text []string
		for i++; i < len(lines); i++ {
			t := strings.TrimSpace(inlineTags.ReplaceAllString(lines[i], ""))
			if t == "" {
				break
			}
			text = append(text, t)
		}

		cues = append(cues, Cue{Start: start, End: end, Text: strings.Join(text, "\n")})
	}

	return cues, nil
}

// ParseSRT parses a SubRip document. The numeric cue counters are ignored;
// only timings and text are kept.
func ParseSRT(data string) ([]Cue, error) {
	var cues []Cue

	for _, block := range strings.Split(normalizeNewlines(data), "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		// First line is the counter, second the timing. Tolerate blocks
		// where the counter is missing.
		timing := lines[1]
		textStart := 2
		if strings.Contains(lines[0], "-->") {
			timing = lines[0]
			textStart = 1
		}
		if !strings.Contains(timing, "-->") {
			continue
		}

		parts := strings.SplitN(timing, "-->", 2)
		start, err := parseTimestamp(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("cue timing %q: %w", timing, err)
		}
		end, err := parseTimestamp(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("cue timing %q: %w", timing, err)
		}

		if textStart >= len(lines) {
			continue
		}
		cues = append(cues, Cue{
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(strings.Join(lines[textStart:], "\n")),
		})
	}

	return cues, nil
}

// parseTimestamp parses "HH:MM:SS.mmm", "MM:SS.mmm" and the SRT comma
// variant "HH:MM:SS,mmm".
func parseTimestamp(s string) (time.Duration, error) {
	s = strings.Replace(s, ",", ".", 1)

	var secs string
	fields := strings.Split(s, ":")
	var hours, minutes int
	var err error

	switch len(fields) {
	case 3:
		if hours, err = strconv.Atoi(fields[0]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		if minutes, err = strconv.Atoi(fields[1]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		secs = fields[2]
	case 2:
		if minutes, err = strconv.Atoi(fields[0]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		secs = fields[1]
	default:
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	seconds, err := strconv.ParseFloat(secs, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// FormatOptions controls transcript rendering.
type FormatOptions struct {
	// Timestamps prefixes each line with the cue start time.
	Timestamps bool
}

// Format renders cues as a plain-text transcript. Auto-generated captions
// roll: each cue repeats the previous cue's lines before adding its own, so
// lines already emitted are skipped.
func Format(cues []Cue, opts FormatOptions) string {
	var b strings.Builder
	var last string

	for _, cue := range cues {
		for _, line := range strings.Split(cue.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || line == last {
				continue
			}
			last = line

			if opts.Timestamps {
				fmt.Fprintf(&b, "[%s] %s\n", formatOffset(cue.Start), line)
			} else {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatOffset renders a duration as MM:SS or HH:MM:SS.
func formatOffset(d time.Duration) string {
	total := int(d.Seconds())
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
