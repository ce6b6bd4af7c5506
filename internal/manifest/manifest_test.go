package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "module.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writeManifest(t, `
name: scraper
runtime:
  main: scraper
inputs:
  - name: urls
outputs:
  - name: pages
    type: string
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Version != "0.0.0" {
		t.Fatalf("version = %q, want defaulted 0.0.0", m.Version)
	}
	if m.Inputs[0].Type != "Any" {
		t.Fatalf("input type = %q, want Any default", m.Inputs[0].Type)
	}
	if m.Outputs[0].Type != "string" {
		t.Fatalf("output type = %q", m.Outputs[0].Type)
	}
	if m.Dir != dir {
		t.Fatalf("dir = %q, want %q", m.Dir, dir)
	}
}

func TestLoadDefaultsNameFromDirectory(t *testing.T) {
	dir := writeManifest(t, "runtime:\n  main: x\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Name != filepath.Base(dir) {
		t.Fatalf("name = %q, want directory name %q", m.Name, filepath.Base(dir))
	}
}

func TestLoadSplitsVersionConstraints(t *testing.T) {
	dir := writeManifest(t, `
name: nlp
runtime:
  main: nlp
requirements:
  - name: tokenizer
    version: ">=1.0"
  - name: stemmer
    version: "2.3"
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tok := m.Requirements[0]
	if tok.Constraint != ">=" || tok.Version != "1.0" {
		t.Fatalf("constraint split = (%q, %q), want (>=, 1.0)", tok.Constraint, tok.Version)
	}
	stem := m.Requirements[1]
	if stem.Constraint != "" || stem.Version != "2.3" {
		t.Fatalf("bare version mishandled: (%q, %q)", stem.Constraint, stem.Version)
	}
}

func TestLoadRejectsDuplicatePortNames(t *testing.T) {
	dir := writeManifest(t, `
name: dup
runtime:
  main: dup
inputs:
  - name: x
  - name: x
`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a duplicate input name error")
	}
}

func TestLoadMissingManifestFails(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory without module.yaml")
	}
}

func TestExists(t *testing.T) {
	dir := writeManifest(t, "name: here\n")
	if !Exists(dir) {
		t.Fatal("Exists should be true for a directory with module.yaml")
	}
	if Exists(t.TempDir()) {
		t.Fatal("Exists should be false for an empty directory")
	}
}
