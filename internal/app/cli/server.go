package cli

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/jinford/kb-rag/internal/infra/postgres"
	"github.com/jinford/kb-rag/internal/interface/httpapi"
	"github.com/jinford/kb-rag/internal/platform/container"
)

// ServerStartAction はHTTPサーバを起動し、シグナルを受けるまで待ち受ける
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	c := appCtx.Container

	addr := c.Config.HTTP.Addr
	if cmd.IsSet("addr") {
		addr = cmd.String("addr")
	}

	server := httpapi.NewServer(HTTPDependencies(c),
		httpapi.WithServerLogger(appCtx.Logger()),
		httpapi.WithChatRateLimit(c.Config.HTTP.ChatRatePerMinute),
		httpapi.WithIngestRateLimit(c.Config.HTTP.IngestRatePerHour),
	)
	return server.Run(ctx, addr)
}

// HTTPDependencies はコンテナのサービスを HTTP ハンドラに束ねる
func HTTPDependencies(c *container.ServiceContainer) httpapi.Dependencies {
	return httpapi.Dependencies{
		Ask:          c.Ask,
		Ingest:       c.Ingestion,
		Documents:    c.Documents,
		Suggest:      c.Suggest,
		Memberships:  c.Memberships,
		ChatDefaults: retrieval.Options{K: c.Config.Retrieval.ChatK, Threshold: c.Config.Retrieval.ChatThreshold},
		EvalDefaults: c.Eval.Options(),
		NewEval: func(opts retrieval.Options) httpapi.EvalExecutor {
			return c.Eval.WithOptions(opts)
		},
		EvalCases:  c.Evals,
		EvalRuns:   c.Evals,
		IsNotFound: func(err error) bool { return errors.Is(err, postgres.ErrNotFound) },
		Metrics:    c.Metrics.Handler(),
	}
}
