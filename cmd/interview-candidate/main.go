package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sjawhar/interview-room/internal/config"
)

type options struct {
	configPath    string
	serverURL     string
	jobDesc       string
	skills        []string
	interviewType string
	difficulty    string
	interviewID   int64
	speechDir     string
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:   "interview-candidate",
		Short: "Join an interview from the terminal",
		Long: "Captures the microphone, records the session and relays typed answers to the interview server.\n" +
			"Commands: /pause /resume /mute /video /reconnect /end. Anything else is sent as an answer.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, os.Stdin, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", envOr(config.EnvPrefix+"CONFIG", "config.yaml"), "Path to the YAML config file")
	f.StringVar(&opts.serverURL, "server", "", "Interview server URL (overrides candidate.server_url)")
	f.StringVar(&opts.jobDesc, "job", "", "Job description")
	f.StringSliceVar(&opts.skills, "skills", nil, "Skills to cover, comma separated")
	f.StringVar(&opts.interviewType, "type", "technical", "Interview type")
	f.StringVar(&opts.difficulty, "difficulty", "intermediate", "Difficulty level")
	f.Int64Var(&opts.interviewID, "interview-id", 0, "Existing interview record to continue")
	f.StringVar(&opts.speechDir, "speech-dir", "", "Save spoken interviewer turns into this directory")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "interview-candidate: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
