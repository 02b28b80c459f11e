package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"genserve/internal/config"
)

var version = "dev"

// newRootCmd constructs the command tree. Shared flags live on the root and
// override values read from --config.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "genserve",
		Short:         "Queued text generation for a single local model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.String("log-level", "info", "Log level: debug|info|warn|error|disabled")
	pf.String("log-format", "console", "Log format: console|json")
	pf.String("backend", "llama", "Inference backend: llama|server|script")
	pf.String("models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	pf.String("model", "", "Model file name under --models-dir, or a path")
	pf.String("script", "The quick brown fox jumps over the lazy dog.", "Text replayed by the script backend")
	pf.Duration("script-delay", 0, "Per-token delay of the script backend")
	pf.Int("llama-ctx", 2048, "llama.cpp context size")
	pf.Int("llama-threads", 0, "llama.cpp threads (0 = runtime default)")
	pf.String("server-url", "http://127.0.0.1:8080", "Base URL of the llama.cpp server used by --backend=server")
	pf.String("server-api-key", "", "Bearer token sent to the llama.cpp server")
	pf.Duration("server-connect-timeout", 5*time.Second, "Dial timeout for the llama.cpp server")
	pf.Int("eos-token-id", 2, "End-of-sequence token id (-1 disables the check)")
	pf.Int("workers", 1, "Worker goroutines")
	pf.Int("max-queue-size", 32, "Requests allowed to wait for a worker")
	pf.Duration("request-timeout", 120*time.Second, "Deadline from submission to result")
	pf.Duration("grace-period", 10*time.Second, "Time in-flight requests get on shutdown")
	pf.Int("max-tokens", 512, "Default token cap per request")
	pf.StringSlice("stop", nil, "Default stop sequences")

	root.AddCommand(newServeCmd(), newGenerateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "genserve", version)
			return err
		},
	}
}

// loadConfig reads --config when given and applies every flag the user set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	f := cmd.Flags()
	if p, _ := f.GetString("config"); p != "" {
		c, err := config.Load(p)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	setString := func(name string, dst *string) {
		if v, _ := f.GetString(name); f.Changed(name) || *dst == "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, _ := f.GetInt(name); f.Changed(name) || *dst == 0 {
			*dst = v
		}
	}
	setDur := func(name string, dst *config.Duration) {
		if v, _ := f.GetDuration(name); f.Changed(name) || *dst == 0 {
			*dst = config.Duration(v)
		}
	}
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
	setString("backend", &cfg.Backend)
	setString("models-dir", &cfg.ModelsDir)
	setString("model", &cfg.Model)
	setInt("llama-ctx", &cfg.Llama.Ctx)
	setInt("llama-threads", &cfg.Llama.Threads)
	setString("server-url", &cfg.Server.URL)
	setString("server-api-key", &cfg.Server.APIKey)
	setDur("server-connect-timeout", &cfg.Server.ConnectTimeout)
	setInt("workers", &cfg.Workers)
	setInt("max-queue-size", &cfg.MaxQueueSize)
	setInt("max-tokens", &cfg.MaxTokens)
	setDur("request-timeout", &cfg.RequestTimeout)
	setDur("grace-period", &cfg.GracePeriod)
	if v, _ := f.GetInt("eos-token-id"); f.Changed("eos-token-id") || cfg.EOSTokenID == nil {
		cfg.EOSTokenID = &v
	}
	if v, _ := f.GetStringSlice("stop"); f.Changed("stop") {
		cfg.Stop = v
	}
	// serve-only flags
	if f.Lookup("addr") != nil {
		setString("addr", &cfg.Addr)
	}
	if f.Lookup("cors-origins") != nil && f.Changed("cors-origins") {
		v, _ := f.GetString("cors-origins")
		cfg.CORS.Origins = splitCSV(v)
		cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
	}
	return cfg, nil
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg config.Config, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	if w == nil {
		w = os.Stderr
	}
	switch cfg.LogFormat {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
