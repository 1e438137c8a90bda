// Package tools exposes the transcript tools over MCP. The media fetcher
// binary (yt-dlp by default) is invoked through a Runner so tests can swap
// in a fake.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/scribeworks/mcp-scribe/internal/captions"
	"github.com/scribeworks/mcp-scribe/internal/instrumentation"
)

// DefaultFetcher is the media fetcher binary looked up on PATH when none is
// configured.
const DefaultFetcher = "yt-dlp"

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands through os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %s", name, firstLine(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// Toolbox holds the transcript tool handlers and their collaborators.
type Toolbox struct {
	fetcher string
	runner  Runner
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// Option configures a Toolbox.
type Option func(*Toolbox)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(t *Toolbox) { t.runner = r }
}

// WithFetcher sets the media fetcher binary.
func WithFetcher(name string) Option {
	return func(t *Toolbox) {
		if name != "" {
			t.fetcher = name
		}
	}
}

// New creates a Toolbox.
func New(logger *slog.Logger, inst *instrumentation.Instrumentation, opts ...Option) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Toolbox{
		fetcher: DefaultFetcher,
		runner:  execRunner{},
		logger:  logger,
		metrics: inst.Metrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds the transcript tools to the protocol engine.
func (t *Toolbox) Register(engine *server.MCPServer) {
	engine.AddTool(
		mcp.NewTool("get_transcript",
			mcp.WithDescription("Download and return the transcript of a video as plain text"),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("Video URL"),
			),
			mcp.WithString("lang",
				mcp.Description("Subtitle language code (default: en)"),
			),
			mcp.WithBoolean("timestamps",
				mcp.Description("Prefix each line with the cue start time"),
			),
		),
		t.handleGetTranscript,
	)

	engine.AddTool(
		mcp.NewTool("get_video_info",
			mcp.WithDescription("Return title, uploader and duration for a video"),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("Video URL"),
			),
		),
		t.handleGetVideoInfo,
	)
}

func (t *Toolbox) handleGetTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lang := request.GetString("lang", "en")
	timestamps := request.GetBool("timestamps", false)

	dir, err := os.MkdirTemp("", "mcp-scribe-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	_, err = t.runner.Run(ctx, t.fetcher,
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", lang,
		"--no-warnings",
		"-P", dir,
		"-o", "captions",
		url,
	)
	if err != nil {
		t.logger.Warn("Fetcher failed", "url", url, "error", err)
		t.metrics.RecordToolCall(ctx, "get_transcript", false)
		return mcp.NewToolResultError(fmt.Sprintf("fetching captions: %v", err)), nil
	}

	cues, err := t.parseCaptionFiles(dir)
	if err != nil {
		t.metrics.RecordToolCall(ctx, "get_transcript", false)
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cues) == 0 {
		t.metrics.RecordToolCall(ctx, "get_transcript", false)
		return mcp.NewToolResultError(fmt.Sprintf("no %s captions available for this video", lang)), nil
	}

	transcript := captions.Format(cues, captions.FormatOptions{Timestamps: timestamps})
	t.logger.Info("Transcript fetched",
		"url", url,
		"lang", lang,
		"cues", len(cues),
		"duration", time.Since(start))
	t.metrics.RecordToolCall(ctx, "get_transcript", true)
	return mcp.NewToolResultText(transcript), nil
}

// parseCaptionFiles parses whatever caption file the fetcher produced,
// preferring WebVTT over SRT.
func (t *Toolbox) parseCaptionFiles(dir string) ([]captions.Cue, error) {
	for _, pattern := range []string{"*.vtt", "*.srt"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) == 0 {
			continue
		}

		data, err := os.ReadFile(matches[0])
		if err != nil {
			return nil, fmt.Errorf("reading caption file: %w", err)
		}

		if pattern == "*.vtt" {
			return captions.ParseVTT(string(data))
		}
		return captions.ParseSRT(string(data))
	}
	return nil, nil
}

// videoInfo is the subset of the fetcher's JSON dump shown to clients.
type videoInfo struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	UploadDate string  `json:"upload_date"`
	ViewCount  int64   `json:"view_count"`
}

func (t *Toolbox) handleGetVideoInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := t.runner.Run(ctx, t.fetcher, "--skip-download", "--no-warnings", "-J", url)
	if err != nil {
		t.logger.Warn("Fetcher failed", "url", url, "error", err)
		t.metrics.RecordToolCall(ctx, "get_video_info", false)
		return mcp.NewToolResultError(fmt.Sprintf("fetching video info: %v", err)), nil
	}

	var info videoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		t.metrics.RecordToolCall(ctx, "get_video_info", false)
		return mcp.NewToolResultError("fetcher returned unparseable metadata"), nil
	}

	t.metrics.RecordToolCall(ctx, "get_video_info", true)
	return mcp.NewToolResultText(formatVideoInfo(&info)), nil
}

func formatVideoInfo(info *videoInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", info.Title)

	uploader := info.Uploader
	if uploader == "" {
		uploader = info.Channel
	}
	if uploader != "" {
		fmt.Fprintf(&b, "Uploader: %s\n", uploader)
	}
	if info.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", (time.Duration(info.Duration) * time.Second).String())
	}
	if info.UploadDate != "" {
		fmt.Fprintf(&b, "Uploaded: %s\n", info.UploadDate)
	}
	if info.ViewCount > 0 {
		fmt.Fprintf(&b, "Views: %d\n", info.ViewCount)
	}
	return strings.TrimRight(b.String(), "\n")
}
