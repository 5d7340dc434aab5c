package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/indexer"
	"github.com/seanblong/repochat/internal/loader"
	"github.com/seanblong/repochat/internal/secrets"
	"github.com/seanblong/repochat/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("repochat-indexer", pflag.ExitOnError)
	workers := fs.Int("workers", 0, "Concurrent indexing workers (0 = min(NumCPU, 8))")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx := context.Background()

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid provider")
	}
	if cfg.APIKeyParam != "" && clientConfig.APIKey == "" {
		ps, err := secrets.NewFromEnvironment(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create parameter store client")
		}
		if clientConfig.APIKey, err = secrets.ResolveAPIKey(ctx, ps, "", cfg.APIKeyParam); err != nil {
			log.Fatal().Err(err).Msg("failed to resolve provider api key")
		}
	}
	log.Info().Str("provider", string(clientConfig.Provider)).Msg("using provider")

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create AI client")
	}
	if c.Dim() == 0 {
		log.Fatal().Msg("embedding dimension must be set")
	}

	repository, ref, err := cfg.IndexScope()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid repository")
	}

	ld := loader.New()
	var docs []loader.Document
	if cfg.GithubRepo() {
		docs, err = ld.Load(ctx, cfg.RepoOptions(), cfg.CacheOptions())
	} else {
		root, _ := filepath.Abs(cfg.RepoRoot)
		configured := cfg.RepoOptions()
		opts := loader.NewRepoOptions("", ref)
		opts.Dirs, opts.Exts = configured.Dirs, configured.Exts
		docs, err = ld.LoadDir(ctx, root, opts)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load repository")
	}

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ix := indexer.New(st, repository, ref, c)
	ix.Workers = *workers
	if err := ix.Run(ctx, docs); err != nil {
		log.Fatal().Err(err).Msg("indexing failed")
	}
	log.Info().Str("repository", repository).Str("ref", ref).Int("documents", len(docs)).Msg("indexing complete")
}
