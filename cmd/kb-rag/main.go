package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/kb-rag/internal/app/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func tenantFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "tenant",
		Usage:    "テナントID（呼び出し元で検証済みであること）",
		Required: true,
	}
}

func retrievalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "k",
			Usage: "検索件数（省略時は設定値）",
		},
		&cli.FloatFlag{
			Name:  "threshold",
			Usage: "類似度の下限（省略時は設定値）",
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "kb-rag",
		Usage: "社内ナレッジベース向け RAG 基盤",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "スキーマのマイグレーションを適用",
				Flags:  []cli.Flag{envFlag()},
				Action: appcli.MigrateAction,
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "ファイルを保存してドキュメントを登録",
						Flags: []cli.Flag{
							envFlag(),
							tenantFlag(),
							&cli.StringFlag{
								Name:     "file",
								Usage:    "登録するファイル（PDFまたはテキスト）",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "collection",
								Usage: "コレクションID",
							},
							&cli.BoolFlag{
								Name:  "ingest",
								Usage: "登録後にインデックス化",
							},
						},
						Action: appcli.DocumentAddAction,
					},
					{
						Name:  "delete",
						Usage: "ドキュメントとチャンクを削除",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "document",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: appcli.DocumentDeleteAction,
					},
				},
			},
			{
				Name:  "ingest",
				Usage: "ドキュメントをインデックス化",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "document",
						Usage:    "ドキュメントID",
						Required: true,
					},
				},
				Action: appcli.IngestAction,
			},
			{
				Name:      "ask",
				Usage:     "ナレッジベースに質問",
				ArgsUsage: "<question>",
				Flags: append([]cli.Flag{
					envFlag(),
					tenantFlag(),
					&cli.StringSliceFlag{
						Name:  "collection",
						Usage: "検索対象のコレクションID（複数指定可）",
					},
				}, retrievalFlags()...),
				Action: appcli.AskAction,
			},
			{
				Name:      "suggest",
				Usage:     "チケットのタイトルから関連記事を提案",
				ArgsUsage: "<text>",
				Flags:     []cli.Flag{envFlag(), tenantFlag()},
				Action:    appcli.SuggestAction,
			},
			{
				Name:  "eval",
				Usage: "評価コマンド",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "評価セットを実行してNDJSONで出力",
						Flags: append([]cli.Flag{
							envFlag(),
							tenantFlag(),
							&cli.StringFlag{
								Name:  "set",
								Usage: "評価セットID（結果を保存する）",
							},
							&cli.StringFlag{
								Name:  "cases",
								Usage: "評価ケースのYAMLファイル",
							},
						}, retrievalFlags()...),
						Action: appcli.EvalRunAction,
					},
					{
						Name:  "import",
						Usage: "YAMLの評価ケースを評価セットとして登録",
						Flags: []cli.Flag{
							envFlag(),
							tenantFlag(),
							&cli.StringFlag{
								Name:     "file",
								Usage:    "評価ケースのYAMLファイル",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "評価セット名（省略時はファイル名）",
							},
						},
						Action: appcli.EvalImportAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "addr",
								Usage: "待ち受けアドレス（省略時は HTTP_ADDR または :8080）",
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
