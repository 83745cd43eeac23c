package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/infra/postgres"
	"github.com/jinford/kb-rag/internal/infra/storage"
)

// DocumentAddAction はファイルを保存してドキュメントを登録する
// --ingest を指定した場合は続けてインデックス化する
func DocumentAddAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := uuidFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	collectionID := mo.None[uuid.UUID]()
	if cmd.String("collection") != "" {
		id, err := uuidFlag(cmd, "collection")
		if err != nil {
			return err
		}
		collectionID = mo.Some(id)
	}
	path := cmd.String("file")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	c := appCtx.Container

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	filename := filepath.Base(path)
	storagePath, err := c.Storage.Upload(ctx, uuid.New(), filename, f)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	doc, err := c.Documents.CreateDocument(ctx, postgres.CreateDocumentParams{
		TenantID:     tenantID,
		CollectionID: collectionID,
		Filename:     filename,
		StoragePath:  storagePath,
		MimeType:     storage.ContentType(filename),
	})
	if err != nil {
		return err
	}

	appCtx.Logger().Info("document registered", "documentID", doc.ID, "path", storagePath)
	fmt.Fprintf(stdout(cmd), "document %s registered\n", doc.ID)

	if !cmd.Bool("ingest") {
		return nil
	}
	return runIngest(ctx, cmd, c.Ingestion, doc.ID)
}

// IngestAction はドキュメントをインデックス化する
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	documentID, err := uuidFlag(cmd, "document")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	return runIngest(ctx, cmd, appCtx.Container.Ingestion, documentID)
}

// DocumentDeleteAction はドキュメントとチャンク、保存済みファイルを削除する
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	documentID, err := uuidFlag(cmd, "document")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Ingestion.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	fmt.Fprintf(stdout(cmd), "document %s deleted\n", documentID)
	return nil
}

func runIngest(ctx context.Context, cmd *cli.Command, pipeline *ingestion.Pipeline, documentID uuid.UUID) error {
	result, err := pipeline.Ingest(ctx, documentID)
	if err != nil {
		return err
	}

	out := stdout(cmd)
	if result.Status == ingestion.StatusFailed {
		fmt.Fprintf(out, "document %s failed: %v\n", documentID, result.Err)
		return fmt.Errorf("failed to ingest document %s: %w", documentID, result.Err)
	}
	fmt.Fprintf(out, "document %s %s: %d chunks, %d tokens\n", documentID, result.Status, result.ChunkCount, result.TotalTokens)
	return nil
}
