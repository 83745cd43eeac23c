package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/retrieval"
)

// EvalRunAction は評価セットを実行し、イベントをNDJSONで標準出力に書き出す
// --set の場合はDBのケースを使い結果を保存する。--cases の場合はYAMLのケースを使い保存しない
func EvalRunAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := uuidFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	setFlag, casesFile := cmd.String("set"), cmd.String("cases")
	if (setFlag == "") == (casesFile == "") {
		return fmt.Errorf("exactly one of --set or --cases is required")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	c := appCtx.Container
	scope := retrieval.TrustedScope(tenantID)

	setID := mo.None[uuid.UUID]()
	var cases []eval.Case
	if setFlag != "" {
		id, err := uuidFlag(cmd, "set")
		if err != nil {
			return err
		}
		setID = mo.Some(id)
		if cases, err = c.Evals.ListCases(ctx, scope, id); err != nil {
			return err
		}
		if len(cases) == 0 {
			return eval.ErrNoCases
		}
	} else {
		if cases, err = eval.LoadCases(casesFile); err != nil {
			return err
		}
	}

	opts := c.Eval.Options()
	if cmd.IsSet("k") {
		opts.K = int(cmd.Int("k"))
	}
	if cmd.IsSet("threshold") {
		opts.Threshold = cmd.Float("threshold")
	}

	reporter := eval.NewNDJSONReporter(stdout(cmd), nil)
	summary, err := c.Eval.WithOptions(opts).Execute(ctx, scope, setID, cases, c.Evals, reporter)
	if err != nil {
		return err
	}

	appCtx.Logger().Info("eval run completed",
		"cases", summary.Total,
		"recallAtK", summary.RecallAtK,
		"answerAccuracy", summary.AnswerAccuracy,
	)
	return nil
}

// EvalImportAction はYAMLの評価ケースを評価セットとして登録する
// セットと全ケースは1トランザクションで登録され、途中で失敗した場合は何も残らない
func EvalImportAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := uuidFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	path := cmd.String("file")
	cases, err := eval.LoadCases(path)
	if err != nil {
		return err
	}
	name := cmd.String("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	setID, err := appCtx.Container.ImportEvalSet(ctx, tenantID, name, cases)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout(cmd), "eval set %s created with %d cases\n", setID, len(cases))
	return nil
}
