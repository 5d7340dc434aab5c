package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/search"
	"github.com/seanblong/repochat/internal/secrets"
	"github.com/seanblong/repochat/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("repochat-api", pflag.ExitOnError)

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
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting repochat api")

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
		if clientConfig.APIKey, err = secrets.ResolveAPIKey(ctx, ps, clientConfig.APIKey, cfg.APIKeyParam); err != nil {
			log.Fatal().Err(err).Msg("failed to resolve provider api key")
		}
	}

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create AI client")
	}

	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Str("chat_model", clientConfig.ChatModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	svc := search.NewService(c, st)
	if cfg.ContextK > 0 {
		svc.K = cfg.ContextK
	}

	authn := auth.New(auth.Config{
		JwtSecret:    []byte(cfg.Auth.JwtSecret),
		ClientID:     cfg.Auth.GithubClientID,
		ClientSecret: cfg.Auth.GithubClientSecret,
		RedirectURL:  cfg.Auth.GithubRedirectURL,
		AllowedOrg:   cfg.Auth.GithubAllowedOrg,
		Enabled:      cfg.Auth.Enabled,
	})
	if authn.Enabled() {
		logger.Info().Msg("authentication is ENABLED")
	} else {
		logger.Warn().Msg("authentication is DISABLED - running in open mode")
	}

	srv := &server{
		repos:  st,
		search: svc,
		model:  c,
		auth:   authn,
		retriever: func(repository, ref string, k int) chat.Retriever {
			r := *svc
			r.Scope = store.QueryOpts{Repository: repository, Ref: ref}
			if k > 0 {
				r.K = k
			}
			return &r
		},
		chatOptions: []chat.Option{chat.WithMaxContextChars(cfg.MaxContextChars)},
		chatTimeout: cfg.RequestTimeout,
	}

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(srv.routes()),
	)

	s := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("api server stopped")
	}
}
