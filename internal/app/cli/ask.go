package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/kb-rag/internal/core/ask"
	"github.com/jinford/kb-rag/internal/core/citation"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

// AskAction は質問に回答し、トークンを標準出力に逐次書き出す
func AskAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := uuidFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	collections, err := uuidSliceFlag(cmd, "collection")
	if err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("question is required")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	cfg := appCtx.Container.Config

	opts := retrieval.Options{K: cfg.Retrieval.ChatK, Threshold: cfg.Retrieval.ChatThreshold, CollectionScope: collections}
	if cmd.IsSet("k") {
		opts.K = int(cmd.Int("k"))
	}
	if cmd.IsSet("threshold") {
		opts.Threshold = cmd.Float("threshold")
	}

	sink := &writerSink{w: stdout(cmd)}
	result, err := appCtx.Container.Ask.Ask(ctx, retrieval.TrustedScope(tenantID), ask.AskParams{
		Question: question,
		Options:  mo.Some(opts),
	}, sink)
	if err != nil {
		return err
	}

	appCtx.Logger().Info("question answered",
		"citations", len(result.Citations),
		"maxSimilarity", result.MaxSimilarity,
	)
	return nil
}

// writerSink は回答を io.Writer に書き出し、最後に引用表を表示する
type writerSink struct {
	w io.Writer
}

var _ generation.Sink = (*writerSink)(nil)

func (s *writerSink) Text(token string) error {
	_, err := io.WriteString(s.w, token)
	return err
}

func (s *writerSink) Citations(entries []citation.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(s.w)
		return err
	}
	if _, err := fmt.Fprint(s.w, "\n\n--- citations ---\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(s.w, "[%d] %s (similarity %.3f)\n    %s\n", e.Index, e.Filename, e.Similarity, e.Snippet); err != nil {
			return err
		}
	}
	return nil
}

func (s *writerSink) Close() error {
	return nil
}

// SuggestAction はテキストに関連するナレッジベースの一節を表示する
func SuggestAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := uuidFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	text := strings.Join(cmd.Args().Slice(), " ")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	suggestions, err := appCtx.Container.Suggest.Suggest(ctx, retrieval.TrustedScope(tenantID), text)
	if err != nil {
		return err
	}

	out := stdout(cmd)
	if len(suggestions) == 0 {
		fmt.Fprintln(out, "no related articles")
		return nil
	}
	for i, s := range suggestions {
		fmt.Fprintf(out, "%d. %s (similarity %.3f)\n   %s\n", i+1, s.Filename, s.Similarity, s.Snippet)
	}
	return nil
}
