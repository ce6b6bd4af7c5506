package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/security"
)

func writeModule(t *testing.T, root, name, manifest string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "module.yaml"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
}

func emptyStore(t *testing.T) *security.SignerStore {
	t.Helper()
	store, err := security.LoadSignerStore(filepath.Join(t.TempDir(), "signers.json"))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestScanFindsModulesPermissive(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "alpha", "name: alpha\nruntime:\n  main: alpha\n")
	writeModule(t, root, "beta", "name: beta\nruntime:\n  main: beta\n")
	// A directory without a manifest is not a module.
	os.MkdirAll(filepath.Join(root, "not_a_module"), 0755)

	candidates, err := Scan(root, emptyStore(t), Options{SecurityMode: domain.SecurityModePermissive})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}
	if candidates[0].Manifest.Name != "alpha" || candidates[1].Manifest.Name != "beta" {
		t.Fatalf("unexpected order: %s, %s", candidates[0].Manifest.Name, candidates[1].Manifest.Name)
	}
	for _, c := range candidates {
		if c.Record.Status != domain.VerificationUnsigned {
			t.Fatalf("status = %s, want unsigned", c.Record.Status)
		}
	}
}

func TestScanParanoidExcludesUnsigned(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "alpha", "name: alpha\nruntime:\n  main: alpha\n")

	candidates, err := Scan(root, emptyStore(t), Options{SecurityMode: domain.SecurityModeParanoid})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("paranoid scan returned %d candidates, want 0", len(candidates))
	}
}

func TestScanSkipsUnparseableManifest(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "good", "name: good\nruntime:\n  main: good\n")
	writeModule(t, root, "broken", "{{definitely not yaml")

	candidates, err := Scan(root, emptyStore(t), Options{SecurityMode: domain.SecurityModePermissive})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Manifest.Name != "good" {
		t.Fatalf("candidates = %+v, want just good", candidates)
	}
}

func TestScanMissingDirectoryFails(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "absent"), emptyStore(t), Options{}); err == nil {
		t.Fatal("expected an error for a missing module directory")
	}
}

func TestBuildUnknownModule(t *testing.T) {
	if _, ok := Build(domain.ModuleManifest{Name: "never_registered"}); ok {
		t.Fatal("Build should fail for an unregistered module name")
	}
}
