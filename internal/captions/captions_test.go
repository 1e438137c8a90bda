package captions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVTT = `WEBVTT
Kind: captions
Language: en

00:00:00.480 --> 00:00:02.960 align:start position:0%
welcome<00:00:01.280><c> back</c><c> to</c><c> the</c><c> channel</c>

00:00:02.960 --> 00:00:05.120 align:start position:0%
welcome back to the channel
today we look at Go

00:00:05.120 --> 00:00:07.800
today we look at Go
and its concurrency story
`

const sampleSRT = `1
00:00:01,000 --> 00:00:03,500
Hello and welcome.

2
00:00:03,500 --> 00:00:06,000
Let's get started
with the demo.
`

func TestParseVTT(t *testing.T) {
	cues, err := ParseVTT(sampleVTT)
	require.NoError(t, err)
	require.Len(t, cues, 3)

	assert.Equal(t, 480*time.Millisecond, cues[0].Start)
	assert.Equal(t, 2960*time.Millisecond, cues[0].End)
	assert.Equal(t, "welcome back to the channel", cues[0].Text)
	assert.Equal(t, "today we look at Go\nand its concurrency story", cues[2].Text)
}

func TestParseVTTRejectsNonVTT(t *testing.T) {
	_, err := ParseVTT("1\n00:00:01,000 --> 00:00:03,500\nhello")
	assert.Error(t, err)
}

func TestParseVTTBadTiming(t *testing.T) {
	_, err := ParseVTT("WEBVTT\n\nnot:a:time --> 00:00:02.000\nhello\n")
	assert.Error(t, err)
}

func TestParseSRT(t *testing.T) {
	cues, err := ParseSRT(sampleSRT)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, time.Second, cues[0].Start)
	assert.Equal(t, 3500*time.Millisecond, cues[0].End)
	assert.Equal(t, "Hello and welcome.", cues[0].Text)
	assert.Equal(t, "Let's get started\nwith the demo.", cues[1].Text)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "00:00:01.500", want: 1500 * time.Millisecond},
		{in: "01:02:03.000", want: time.Hour + 2*time.Minute + 3*time.Second},
		{in: "02:30.250", want: 2*time.Minute + 30*time.Second + 250*time.Millisecond},
		{in: "00:00:01,500", want: 1500 * time.Millisecond},
		{in: "90", wantErr: true},
		{in: "aa:bb:cc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatDeduplicatesRollingCaptions(t *testing.T) {
	cues, err := ParseVTT(sampleVTT)
	require.NoError(t, err)

	got := Format(cues, FormatOptions{})
	want := "welcome back to the channel\ntoday we look at Go\nand its concurrency story"
	assert.Equal(t, want, got)
}

func TestFormatWithTimestamps(t *testing.T) {
	cues := []Cue{
		{Start: 5 * time.Second, Text: "first line"},
		{Start: time.Hour + 5*time.Second, Text: "much later"},
	}

	got := Format(cues, FormatOptions{Timestamps: true})
	assert.Equal(t, "[00:05] first line\n[01:00:05] much later", got)
}

func TestFormatEmpty(t *testing.T) {
	assert.Equal(t, "", Format(nil, FormatOptions{}))
}
