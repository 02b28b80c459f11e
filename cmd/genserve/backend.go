package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"genserve/internal/config"
	"genserve/internal/model"
	"genserve/internal/registry"
	"genserve/pkg/types"
)

// openBackend builds the configured backend and returns it with the models
// listed on /models.
func openBackend(cmd *cobra.Command, cfg config.Config, log zerolog.Logger) (model.Backend, []types.Model, error) {
	models, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("models dir not readable")
	}
	eos := 2
	if cfg.EOSTokenID != nil {
		eos = *cfg.EOSTokenID
	}
	switch cfg.Backend {
	case "script":
		text, _ := cmd.Flags().GetString("script")
		delay, _ := cmd.Flags().GetDuration("script-delay")
		log.Info().Int("tokens", len([]rune(text))).Msg("using script backend")
		return &model.Scripted{Tokens: model.ScriptFromText(text), EOS: eos, Delay: delay}, models, nil
	case "server":
		log.Info().Str("url", cfg.Server.URL).Str("model", cfg.Model).Msg("using llama.cpp server backend")
		return model.NewServer(cfg.Server.URL, cfg.Server.APIKey, cfg.Model, eos, time.Duration(cfg.Server.ConnectTimeout)), models, nil
	case "llama", "":
		m, err := registry.Resolve(cfg.ModelsDir, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("model", m.ID).Str("path", m.Path).Int64("size_bytes", m.SizeBytes).Msg("loading model")
		b, err := model.NewLlama(m.Path, cfg.Llama.Ctx, cfg.Llama.Threads, eos)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", m.ID, err)
		}
		return b, models, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q (want llama, server or script)", cfg.Backend)
}
