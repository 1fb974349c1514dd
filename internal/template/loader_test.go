package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/jinkaiteo/QMS-sub001/model"
)

func TestLoadDir(t *testing.T) {
	store := NewMemoryStore()
	loader := NewLoader(store, zap.NewNop())
	ctx := context.Background()

	n, err := loader.LoadDir(ctx, "testdata")
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("LoadDir() loaded = %d, want 2", n)
	}

	doc, err := store.FindActive(ctx, "document", "")
	if err != nil {
		t.Fatalf("FindActive(document) error = %v", err)
	}
	if len(doc.Steps) != 3 {
		t.Fatalf("document template steps = %d, want 3", len(doc.Steps))
	}
	if doc.Steps[1].Kind != model.StepKindApproval {
		t.Errorf("step 2 kind = %q, want approval", doc.Steps[1].Kind)
	}
	if doc.Steps[1].Delegable {
		t.Error("step 2 should not be delegable")
	}
	if !doc.Steps[0].Delegable {
		t.Error("step 1 should default to delegable")
	}
	if !doc.Steps[0].Required {
		t.Error("step 1 should default to required")
	}
	if doc.Steps[2].Required {
		t.Error("step 3 should be optional")
	}

	cc, err := store.FindActive(ctx, "change_request", "sterile-manufacturing")
	if err != nil {
		t.Fatalf("FindActive(change_request) error = %v", err)
	}
	if !cc.MultiLevelApproval {
		t.Error("change control template should allow multiple approvals")
	}
	if cc.Steps[2].SignatureMeaning != "Released" {
		t.Errorf("step 3 signature meaning = %q, want Released", cc.Steps[2].SignatureMeaning)
	}
}

func TestLoadDirIdempotent(t *testing.T) {
	store := NewMemoryStore()
	loader := NewLoader(store, zap.NewNop())
	ctx := context.Background()

	if _, err := loader.LoadDir(ctx, "testdata"); err != nil {
		t.Fatalf("LoadDir() first pass error = %v", err)
	}
	n, err := loader.LoadDir(ctx, "testdata")
	if err != nil {
		t.Fatalf("LoadDir() second pass error = %v", err)
	}
	if n != 0 {
		t.Errorf("LoadDir() second pass loaded = %d, want 0", n)
	}
}

func TestLoadDirRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := []byte("name: Broken\ntarget_type: document\nsteps:\n  - order: 2\n    name: Only Step\n    kind: review\n    days_to_complete: 3\n")
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), bad, 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(NewMemoryStore(), zap.NewNop())
	if _, err := loader.LoadDir(context.Background(), dir); err == nil {
		t.Fatal("LoadDir() accepted template with non-contiguous orders")
	}
}
