package ingest_test

import (
	"context"
	"testing"

	"github.com/kognit-ai/kognit/internal/chunk"
	"github.com/kognit-ai/kognit/internal/config"
	"github.com/kognit-ai/kognit/internal/embed"
	"github.com/kognit-ai/kognit/internal/ingest"
	"github.com/kognit-ai/kognit/internal/kb"
	"github.com/kognit-ai/kognit/internal/log"
	"github.com/kognit-ai/kognit/internal/retrieve"
	"github.com/kognit-ai/kognit/internal/testutil"
	"github.com/kognit-ai/kognit/internal/vectorstore"
)

// TestPipelineIntegration runs the full ingest-then-retrieve path against a
// real pgvector instance: create a knowledge base, index documents with ACLs,
// and verify retrieval honors both similarity and access control.
func TestPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := log.NewNop()

	// 64 dimensions keeps hash-derived vectors of unrelated texts well below
	// the 0.9 threshold, while identical text scores exactly 1.0.
	spec := config.EmbeddingModel{Name: "mock", Dimensions: 64, ScoreThreshold: 0.9, BatchSize: 100}
	embedClient := embed.New(testutil.NewMockEmbedder(spec.Dimensions), spec, logger)

	vstore := vectorstore.New(tdb.Pool, logger)
	kbStore := kb.NewStore(tdb.Pool, logger)
	manager := kb.NewManager(kbStore, vstore, nil, spec.Dimensions, logger)

	base, err := manager.Create(ctx, "acme", "engineering-docs", kb.ScopeTeam, "", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	chunkOpts := chunk.Options{Size: 500, Overlap: 50, MinSize: 20}
	processor := ingest.NewProcessor(embedClient, vstore, nil, chunkOpts, logger)

	// Both documents fit in one chunk, so a query equal to the document text
	// embeds to the identical vector.
	docAlice := "The deployment pipeline promotes builds from staging to production after the smoke suite passes."
	docGroup := "Rotate database credentials quarterly and store them in the secrets manager."

	_, err = processor.ProcessText(ctx, docAlice, ingest.DocumentMeta{
		KBID:       base.CollectionID(),
		DocumentID: "doc-deploy",
		TenantID:   "acme",
		Filename:   "deploy.md",
		MIMEType:   "text/plain",
		ACLUsers:   []string{"alice"},
	})
	if err != nil {
		t.Fatalf("ProcessText(doc-deploy) error = %v", err)
	}

	_, err = processor.ProcessText(ctx, docGroup, ingest.DocumentMeta{
		KBID:       base.CollectionID(),
		DocumentID: "doc-secrets",
		TenantID:   "acme",
		Filename:   "secrets.md",
		MIMEType:   "text/plain",
		ACLGroups:  []string{"platform"},
	})
	if err != nil {
		t.Fatalf("ProcessText(doc-secrets) error = %v", err)
	}

	retriever := retrieve.New(embedClient, vstore, nil, logger)
	kbs := []string{base.CollectionID()}

	t.Run("authorized user retrieves own document", func(t *testing.T) {
		passages, err := retriever.Retrieve(ctx, docAlice, kbs,
			retrieve.Requester{UserID: "alice", TenantID: "acme"}, retrieve.Options{})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(passages) != 1 {
			t.Fatalf("Retrieve() returned %d passages, want 1", len(passages))
		}
		p := passages[0]
		if p.DocumentID != "doc-deploy" {
			t.Errorf("DocumentID = %q, want doc-deploy", p.DocumentID)
		}
		if p.Ref != 1 {
			t.Errorf("Ref = %d, want 1", p.Ref)
		}
		if p.Score < 0.999 {
			t.Errorf("Score = %v, want ~1.0 for identical text", p.Score)
		}
		if p.Filename != "deploy.md" {
			t.Errorf("Filename = %q, want deploy.md", p.Filename)
		}
	})

	t.Run("group membership grants access", func(t *testing.T) {
		passages, err := retriever.Retrieve(ctx, docGroup, kbs,
			retrieve.Requester{UserID: "bob", TenantID: "acme", GroupIDs: []string{"platform"}},
			retrieve.Options{})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(passages) != 1 || passages[0].DocumentID != "doc-secrets" {
			t.Fatalf("Retrieve() = %+v, want doc-secrets only", passages)
		}
	})

	t.Run("unauthorized user sees nothing", func(t *testing.T) {
		passages, err := retriever.Retrieve(ctx, docAlice, kbs,
			retrieve.Requester{UserID: "mallory", TenantID: "acme"}, retrieve.Options{})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(passages) != 0 {
			t.Errorf("Retrieve() returned %d passages for unauthorized user, want 0", len(passages))
		}
	})

	t.Run("wrong tenant sees nothing despite matching user", func(t *testing.T) {
		passages, err := retriever.Retrieve(ctx, docAlice, kbs,
			retrieve.Requester{UserID: "alice", TenantID: "globex"}, retrieve.Options{})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(passages) != 0 {
			t.Errorf("Retrieve() returned %d passages across tenants, want 0", len(passages))
		}
	})

	t.Run("document delete removes chunks", func(t *testing.T) {
		n, err := processor.DeleteDocument(ctx, base.CollectionID(), "acme", "doc-deploy")
		if err != nil {
			t.Fatalf("DeleteDocument() error = %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteDocument() removed %d chunks, want 1", n)
		}

		passages, err := retriever.Retrieve(ctx, docAlice, kbs,
			retrieve.Requester{UserID: "alice", TenantID: "acme"}, retrieve.Options{})
		if err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		if len(passages) != 0 {
			t.Errorf("Retrieve() returned %d passages after delete, want 0", len(passages))
		}
	})

	t.Run("knowledge base delete drops the collection", func(t *testing.T) {
		if err := manager.Delete(ctx, "acme", base.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		_, err := vstore.Count(ctx, base.CollectionID())
		if err == nil {
			t.Error("Count() after collection delete succeeded, want error")
		}
	})
}
