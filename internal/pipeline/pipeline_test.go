package pipeline

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eidolon/eidolon/internal/domain"
)

func TestNormalizeShortForm(t *testing.T) {
	doc := map[string]any{
		"pipeline": map[string]any{
			"name":        "watch",
			"description": "keyword watch",
			"execution": map[string]any{
				"max_threads": 8,
				"timeout":     "30s",
			},
			"modules": []any{
				map[string]any{
					"module":   "keyword_feed",
					"run_mode": "once",
				},
				map[string]any{
					"module":   "keyword_monitor",
					"id":       "monitor",
					"run_mode": "reactive",
					"input": map[string]any{
						"keywords": "feed.keywords",
						"text":     "page_text",
					},
				},
			},
		},
	}

	def, err := Normalize(doc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if def.Name != "watch" || def.Execution.MaxThreads != 8 {
		t.Fatalf("unexpected pipeline header: %+v", def)
	}
	if def.Execution.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", def.Execution.Timeout)
	}

	feed := def.Modules[0]
	if feed.Name != "keyword_feed" || feed.ID != "keyword_feed" {
		t.Fatalf("module/name sugar not applied: %+v", feed)
	}
	if feed.RunMode != domain.RunModeOnce {
		t.Fatalf("run mode = %q", feed.RunMode)
	}

	mon := def.Modules[1]
	if mon.ID != "monitor" {
		t.Fatalf("explicit id not kept: %+v", mon)
	}
	var kw, text *domain.InputMapping
	for i := range mon.InputMappings {
		switch mon.InputMappings[i].Name {
		case "keywords":
			kw = &mon.InputMappings[i]
		case "text":
			text = &mon.InputMappings[i]
		}
	}
	if kw == nil || kw.SourceModuleID != "feed" || kw.SourceOutput != "keywords" {
		t.Fatalf("dot-qualified mapping not split: %+v", mon.InputMappings)
	}
	if text == nil || text.SourceModuleID != "" || text.SourceOutput != "page_text" {
		t.Fatalf("plain mapping mishandled: %+v", mon.InputMappings)
	}
	if !contains(mon.DependsOn, "feed") {
		t.Fatalf("dot-qualified source should imply depends_on: %+v", mon.DependsOn)
	}
}

func TestNormalizeIsAFixedPoint(t *testing.T) {
	doc := map[string]any{
		"name": "p",
		"modules": []any{
			map[string]any{
				"name":     "a",
				"id":       "a",
				"run_mode": "once",
			},
			map[string]any{
				"name":       "b",
				"id":         "b",
				"run_mode":   "reactive",
				"depends_on": []any{"a"},
				"input_mappings": []any{
					map[string]any{"name": "x", "source_module_id": "a", "source_output": "y"},
				},
			},
		},
	}

	first, err := Normalize(doc)
	if err != nil {
		t.Fatalf("first normalize: %v", err)
	}

	// Round-trip the canonical form through YAML and normalize again.
	data, err := yaml.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var redecoded map[string]any
	if err := yaml.Unmarshal(data, &redecoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	second, err := Normalize(redecoded)
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("normalize is not a fixed point:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestNormalizeOutputsForms(t *testing.T) {
	doc := map[string]any{
		"name": "p",
		"modules": []any{
			map[string]any{
				"name": "m",
				"outputs": []any{
					"plain",
					map[string]any{"name": "named", "mapped": "renamed"},
					map[string]any{"sugar": "sweet"},
				},
			},
		},
	}
	def, err := Normalize(doc)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	outs := def.Modules[0].Outputs
	if len(outs) != 3 {
		t.Fatalf("outputs = %+v, want 3 entries", outs)
	}
	if outs[0].Name != "plain" || outs[0].Mapped != "" {
		t.Fatalf("plain output mishandled: %+v", outs[0])
	}
	if outs[1].Name != "named" || outs[1].Mapped != "renamed" {
		t.Fatalf("named output mishandled: %+v", outs[1])
	}
	if outs[2].Name != "sugar" || outs[2].Mapped != "sweet" {
		t.Fatalf("dict-form output mishandled: %+v", outs[2])
	}
}

func TestValidateDAGRejectsCycle(t *testing.T) {
	def := &domain.PipelineDefinition{
		Name: "cyclic",
		Modules: []domain.PipelineModuleSpec{
			{ID: "a", Name: "a", DependsOn: []string{"b"}},
			{ID: "b", Name: "b", DependsOn: []string{"a"}},
		},
	}
	if _, err := ValidateDAG(def); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestValidateDAGRejectsUnknownDependency(t *testing.T) {
	def := &domain.PipelineDefinition{
		Modules: []domain.PipelineModuleSpec{
			{ID: "a", Name: "a", DependsOn: []string{"ghost"}},
		},
	}
	if _, err := ValidateDAG(def); err == nil {
		t.Fatal("expected an unknown-dependency error")
	}
}

func TestValidateDAGRejectsDuplicateID(t *testing.T) {
	def := &domain.PipelineDefinition{
		Modules: []domain.PipelineModuleSpec{
			{ID: "a", Name: "x"},
			{ID: "a", Name: "y"},
		},
	}
	if _, err := ValidateDAG(def); err == nil {
		t.Fatal("expected a duplicate-id error")
	}
}

func TestValidateDAGTopologicalOrder(t *testing.T) {
	def := &domain.PipelineDefinition{
		Modules: []domain.PipelineModuleSpec{
			{ID: "c", Name: "c", DependsOn: []string{"b"}},
			{ID: "b", Name: "b", DependsOn: []string{"a"}},
			{ID: "a", Name: "a"},
		},
	}
	order, err := ValidateDAG(def)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Fatalf("order %v does not respect dependencies", order)
	}
}

func TestLoadPipelineFromDisk(t *testing.T) {
	dir := t.TempDir()
	content := `
pipeline:
  name: disk_test
  modules:
    - module: feed
      run_mode: once
    - module: sink
      id: sink
      run_mode: reactive
      input:
        data: feed.data
`
	if err := os.WriteFile(filepath.Join(dir, "disk_test.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	def, err := Load(dir, "disk_test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Name != "disk_test" || len(def.Modules) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestLoadMissingPipelineFails(t *testing.T) {
	if _, err := Load(t.TempDir(), "nope"); err == nil {
		t.Fatal("expected an error for a missing pipeline")
	}
}

func TestLoadZeroModulePipeline(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "empty.yaml"), []byte("name: empty\nmodules: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	def, err := Load(dir, "empty")
	if err != nil {
		t.Fatalf("a zero-module pipeline should load: %v", err)
	}
	if len(def.Modules) != 0 {
		t.Fatalf("modules = %+v, want none", def.Modules)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "good.yaml"), []byte("name: good\ndescription: fine\nmodules:\n  - module: a\n"), 0644)
	os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("{{not yaml"), 0644)
	os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644)

	infos, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("infos = %+v, want 2 entries", infos)
	}
	byName := map[string]Info{}
	for _, i := range infos {
		byName[i.Name] = i
	}
	if byName["good"].ModulesCount != 1 || byName["good"].Description != "fine" {
		t.Fatalf("good entry = %+v", byName["good"])
	}
	if byName["bad"].Error == "" {
		t.Fatal("bad entry should carry a parse error")
	}
}

func TestValidateRequiredInputs(t *testing.T) {
	def := &domain.PipelineDefinition{
		Modules: []domain.PipelineModuleSpec{
			{ID: "m", Name: "monitor"},
		},
	}
	manifests := map[string]domain.ModuleManifest{
		"monitor": {
			Name: "monitor",
			Inputs: []domain.PortSpec{
				{Name: "keywords", Type: "list", Required: true},
				{Name: "optional_text", Type: "string"},
			},
		},
	}

	errs := ValidateRequiredInputs(def, manifests)
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one missing-required-input error", errs)
	}

	def.Modules[0].InputMappings = []domain.InputMapping{{Name: "keywords", SourceOutput: "keywords"}}
	if errs := ValidateRequiredInputs(def, manifests); len(errs) != 0 {
		t.Fatalf("errs = %v, want none once mapped", errs)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
