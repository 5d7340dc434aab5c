package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/edit"
	"github.com/seanblong/repochat/internal/search"
	"github.com/seanblong/repochat/internal/secrets"
	"github.com/seanblong/repochat/internal/store"
)

const (
	exitError        = 1
	exitInvalidQuery = 2
	exitUpstream     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := pflag.NewFlagSet("repochat", pflag.ExitOnError)
	editMode := fs.Bool("edit", false, "Ask for whole-file edits instead of an answer")
	apply := fs.Bool("apply", false, "With --edit, write the returned files below --repo-root")
	files := fs.StringArray("file", nil, "Attach a file as context: path, path:10-20 or a GitHub blob link (repeatable)")
	retrieve := fs.Bool("retrieve", false, "Retrieve context from the index when no --file is given")
	system := fs.String("system", "", "System prompt sent with the question")

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.LogLevel, err)
		return exitError
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	query, err := readQuery(fs.Args(), os.Stdin)
	if err != nil {
		log.Error().Err(err).Msg("failed to read query")
		return exitError
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Error().Err(err).Msg("invalid provider")
		return exitError
	}
	if cfg.APIKeyParam != "" && clientConfig.APIKey == "" {
		ps, err := secrets.NewFromEnvironment(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to create parameter store client")
			return exitError
		}
		if clientConfig.APIKey, err = secrets.ResolveAPIKey(ctx, ps, "", cfg.APIKeyParam); err != nil {
			log.Error().Err(err).Msg("failed to resolve provider api key")
			return exitError
		}
	}

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Error().Err(err).Msg("failed to create AI client")
		return exitError
	}

	repository, ref, err := cfg.IndexScope()
	if err != nil {
		log.Error().Err(err).Msg("invalid repository")
		return exitError
	}
	bundle, err := buildBundle(cfg.RepoRoot, repository, *files)
	if err != nil {
		log.Error().Err(err).Msg("failed to read context files")
		return exitError
	}

	opts := []chat.Option{
		chat.WithMaxContextChars(cfg.MaxContextChars),
		chat.WithSystemPrompt(*system),
	}
	if bundle == nil && *retrieve {
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to database")
			return exitError
		}
		defer st.Close()

		svc := search.NewService(c, st)
		svc.K = cfg.ContextK
		svc.Scope = store.QueryOpts{Repository: repository, Ref: ref}
		opts = append(opts, chat.WithRetriever(svc))
	}

	sess, err := chat.New(c, opts...)
	if err != nil {
		log.Error().Err(err).Msg("failed to start chat session")
		return exitError
	}

	if !*editMode {
		answer, err := sess.Ask(ctx, query, bundle)
		if err != nil {
			return reportError(err)
		}
		fmt.Print(answer)
		if !strings.HasSuffix(answer, "\n") {
			fmt.Println()
		}
		return 0
	}

	edited, err := sess.Edit(ctx, query, bundle)
	if err != nil {
		return reportError(err)
	}
	if *apply {
		if err := applyFiles(cfg.RepoRoot, edited); err != nil {
			log.Error().Err(err).Msg("failed to write edited files")
			return exitError
		}
		for _, f := range edited {
			log.Info().Str("path", f.Path).Msg("updated")
		}
		return 0
	}
	for _, f := range edited {
		fmt.Printf("%s %s\n%s", edit.PathPrefix, f.Path, f.Content)
	}
	return 0
}

// readQuery joins the positional arguments, or reads stdin when there are none.
func readQuery(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func reportError(err error) int {
	log.Error().Err(err).Msg("chat failed")
	switch {
	case errors.Is(err, chat.ErrInvalidQuery):
		return exitInvalidQuery
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		return exitUpstream
	default:
		return exitError
	}
}
