package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genserve/internal/queue"
)

// newGenerateCmd runs one prompt through an in-process queue and streams the
// output to stdout.
func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate [prompt]",
		Short:   "Generate text for a prompt without starting the server",
		Example: "  genserve generate --backend=script \"hello\"\n  echo hi | genserve generate --model tiny.gguf",
		Args:    cobra.MaximumNArgs(1),
		RunE:    runGenerate,
	}
	cmd.Flags().Bool("stats", false, "Print finish reason and token count to stderr")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	prompt := strings.Join(args, " ")
	if prompt == "" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		prompt = string(b)
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is required")
	}

	backend, _, err := openBackend(cmd, cfg, log)
	if err != nil {
		return err
	}
	qc := cfg.QueueConfig(backend, &log)
	qc.Workers = 1
	q, err := queue.New(qc)
	if err != nil {
		return err
	}
	defer func() { _ = q.Shutdown(cmd.Context()) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	stream, err := q.SubmitStream(ctx, queue.GenerationRequest{Prompt: prompt})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var final queue.StreamChunk
	for c := range stream.Chunks() {
		if c.Done {
			final = c
		}
		if _, err := fmt.Fprint(out, c.Delta); err != nil {
			stream.Close()
			return err
		}
	}
	fmt.Fprintln(out)
	if stats, _ := cmd.Flags().GetBool("stats"); stats && final.Response != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "finish: %s (%d tokens, %s)\n",
			final.FinishReason.Description, final.Response.TokenCount, final.Response.Duration.Round(time.Millisecond))
	}
	return final.Err
}
