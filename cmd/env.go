package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/composer"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/leadimport"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/replies"
	"github.com/sells-group/outreach-cli/internal/sequence"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/worker"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	gmailpkg "github.com/sells-group/outreach-cli/pkg/gmail"
)

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// outreachEnv holds the initialized store and pipeline collaborators
// shared by the send/replies/worker/serve commands.
type outreachEnv struct {
	Store    store.Store
	Engine   *sequence.Engine
	Composer *composer.Composer
	Sender   dispatch.Sender // nil when no transport is configured
	Checker  *replies.Checker
	Importer *leadimport.Importer
	Worker   *worker.Worker
}

// Close releases resources held by the environment.
func (e *outreachEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initOutreach validates config for the given mode, opens the store,
// runs migrations, and wires the pipeline. Callers should defer
// env.Close().
func initOutreach(ctx context.Context, mode string) (*outreachEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	engine := sequence.New(st, cfg.Sequence)

	var ai anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		ai = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Debug("OUTREACH_ANTHROPIC_KEY not set, AI drafting disabled")
	}
	comp := composer.New(st, ai, cfg)

	var sender dispatch.Sender
	if cfg.Gmail.Token != "" || cfg.SMTP.Host != "" {
		sender, err = dispatch.NewSender(cfg)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("email transport ready", zap.String("sender", sender.Name()))
	}

	// Reply detection needs Gmail thread access; SMTP-only setups fall
	// back to manual marking.
	var checker *replies.Checker
	if cfg.Gmail.Token != "" {
		gc := gmailpkg.NewClient(cfg.Gmail.Token,
			gmailpkg.WithBaseURL(cfg.Gmail.BaseURL),
			gmailpkg.WithUserID(cfg.Gmail.UserID),
			gmailpkg.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Gmail.TimeoutSecs) * time.Second,
			}),
		)
		checker = replies.NewChecker(st, gc, engine)
	}

	importer := leadimport.New(st, cfg.Import)

	var monitor *monitoring.Checker
	if cfg.Monitoring.WebhookURL != "" {
		monitor = monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
	}

	return &outreachEnv{
		Store:    st,
		Engine:   engine,
		Composer: comp,
		Sender:   sender,
		Checker:  checker,
		Importer: importer,
		Worker:   worker.New(cfg, st, engine, comp, sender, checker, importer, monitor),
	}, nil
}
