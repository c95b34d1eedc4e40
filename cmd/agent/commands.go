package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/reelkit/reel-agent/internal/breakdown"
	"github.com/reelkit/reel-agent/internal/export"
	"github.com/reelkit/reel-agent/internal/logging"
	"github.com/reelkit/reel-agent/internal/media"
	"github.com/reelkit/reel-agent/internal/orchestrator"
	"github.com/reelkit/reel-agent/internal/runs"
)

func openCLIApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logging.NewLoggerTo(os.Stderr, cfg.LogLevel()))
}

func parseFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "md", export.FormatMarkdown:
		return export.FormatMarkdown, nil
	case export.FormatJSON:
		return export.FormatJSON, nil
	}
	return "", fmt.Errorf("unknown format %q (want markdown or json)", raw)
}

func newBreakdownCommand() *cobra.Command {
	var (
		userContext string
		model       string
		langs       breakdown.Languages
		format      string
	)

	cmd := &cobra.Command{
		Use:   "breakdown <video-file-or-url>",
		Short: "Break a video down into a script and storyboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			source, err := breakdown.ParseSource(args[0])
			if err != nil {
				return err
			}

			a, err := openCLIApp()
			if err != nil {
				return err
			}
			defer a.Close()

			session, err := a.orch.Run(cmd.Context(), orchestrator.StartRequest{
				Source:    source,
				Context:   userContext,
				Languages: langs,
				Model:     model,
			})
			if err != nil {
				return err
			}

			doc, err := a.orch.Document(cmd.Context(), session.Run().ID)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), doc, outFormat)
		},
	}

	cmd.Flags().StringVar(&userContext, "context", "", "Extra context for the breakdown (audience, tone, product)")
	cmd.Flags().StringVar(&model, "model", "", "Breakdown model (defaults to the configured model)")
	cmd.Flags().StringVar(&langs.Script, "script-lang", "", "Script language as a BCP 47 tag")
	cmd.Flags().StringVar(&langs.Storyboard, "storyboard-lang", "", "Storyboard language as a BCP 47 tag")
	cmd.Flags().StringVar(&langs.Prompt, "prompt-lang", "", "Visual prompt language as a BCP 47 tag")
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatMarkdown, "Output format: markdown or json")
	return cmd
}

func newSampleCommand() *cobra.Command {
	var (
		count       int
		maxInterval float64
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "sample <video-file>",
		Short: "Sample frames from a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel())
			if count <= 0 {
				count = cfg.FrameCount()
			}
			if maxInterval <= 0 {
				maxInterval = cfg.FrameMaxInterval()
			}

			sampler := media.NewSampler(media.NewFFmpegDecoder(cfg.FFmpegPath(), cfg.FFprobePath(), logger), logger)
			frames, err := sampler.SampleFile(cmd.Context(), args[0], count, maxInterval)
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}

			rows := make([][]string, 0, len(frames))
			var total uint64
			for i, f := range frames {
				size := uint64(len(f.Payload.Data))
				total += size
				row := []string{
					strconv.Itoa(i + 1),
					fmt.Sprintf("%.2fs", f.TimestampSeconds),
					fmt.Sprintf("%dx%d", f.Payload.Width, f.Payload.Height),
					humanize.Bytes(size),
				}
				if outDir != "" {
					name := fmt.Sprintf("frame-%02d%s", i+1, frameExt(f.Payload.MIMEType))
					if err := os.WriteFile(filepath.Join(outDir, name), f.Payload.Data, 0644); err != nil {
						return fmt.Errorf("write frame: %w", err)
					}
					row = append(row, name)
				}
				rows = append(rows, row)
			}

			headers := []string{"#", "Time", "Size", "Bytes"}
			if outDir != "" {
				headers = append(headers, "File")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignRight, alignRight, alignLeft, alignRight}))
			fmt.Fprintf(out, "%d frames, %s\n", len(frames), humanize.Bytes(total))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of frames (defaults to the configured count)")
	cmd.Flags().Float64Var(&maxInterval, "max-interval", 0, "Maximum seconds between frames")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write frames into this directory")
	return cmd
}

func frameExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	}
	return ".jpg"
}

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local media toolchain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			prober := media.ToolchainProber{FFmpeg: cfg.FFmpegPath(), FFprobe: cfg.FFprobePath()}
			caps, err := prober.Probe(cmd.Context())
			if err != nil {
				return err
			}

			rows := [][]string{
				depRow("ffmpeg", caps.FFmpeg),
				depRow("ffprobe", caps.FFprobe),
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Tool", "Status", "Version", "Path"}, rows, nil))
			fmt.Fprintf(out, "Gateway: %s\n", cfg.Gateway())
			if caps.CanSample() {
				fmt.Fprintln(out, "Local videos can be sampled.")
			} else {
				fmt.Fprintln(out, "Local videos cannot be sampled; install ffmpeg or set its path in the config.")
			}
			return nil
		},
	}
}

func depRow(name string, dep media.DepInfo) []string {
	if !dep.Available {
		return []string{name, "missing", "", dep.Error}
	}
	return []string{name, "ok", dep.Version, dep.Path}
}

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCLIApp()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.orch.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs yet.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, run := range list {
				rows = append(rows, runRow(run, time.Now()))
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Source", "Frames", "Created", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")

	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsRemoveCommand())
	return cmd
}

func runRow(run *runs.Run, now time.Time) []string {
	source := run.Source
	if run.SourceKind == "local" {
		source = filepath.Base(source)
	}
	errMsg := run.Error
	if len(errMsg) > 60 {
		errMsg = errMsg[:57] + "..."
	}
	return []string{
		run.ID,
		run.Status,
		source,
		strconv.Itoa(run.FrameCount),
		humanize.RelTime(run.CreatedAt, now, "ago", "from now"),
		errMsg,
	}
}

func newRunsShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run's script and storyboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseFormat(format)
			if err != nil {
				return err
			}
			a, err := openCLIApp()
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orch.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run.Status != runs.StatusReady {
				msg := fmt.Sprintf("run %s is %s", run.ID, run.Status)
				if run.Error != "" {
					msg += ": " + run.Error
				}
				return fmt.Errorf("%s", msg)
			}

			doc, err := a.orch.Document(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			return writeDocument(cmd.OutOrStdout(), doc, outFormat)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatMarkdown, "Output format: markdown or json")
	return cmd
}

func newRunsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <run-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete runs and their generated artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openCLIApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.orch.Discard(cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}
