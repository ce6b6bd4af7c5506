package registry

import (
	"testing"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/module"
)

type stub struct {
	*module.BaseModule
}

func newStub(m domain.ModuleManifest) module.Module {
	s := &stub{}
	s.BaseModule = module.NewBase(m, s)
	return s
}

func TestRegisterAndLookup(t *testing.T) {
	Register("reg_test_lookup", newStub)

	factory, ok := Lookup("reg_test_lookup")
	if !ok {
		t.Fatal("registered factory not found")
	}
	mod := factory(domain.ModuleManifest{Name: "reg_test_lookup"})
	if mod.Name() != "reg_test_lookup" {
		t.Fatalf("module name = %q", mod.Name())
	}

	if _, ok := Lookup("reg_test_absent"); ok {
		t.Fatal("lookup of an unregistered name should fail")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register("reg_test_dup", newStub)
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration should panic")
		}
	}()
	Register("reg_test_dup", newStub)
}

func TestNamesSorted(t *testing.T) {
	Register("reg_test_zz", newStub)
	Register("reg_test_aa", newStub)

	names := Names()
	var aa, zz int = -1, -1
	for i, n := range names {
		switch n {
		case "reg_test_aa":
			aa = i
		case "reg_test_zz":
			zz = i
		}
	}
	if aa == -1 || zz == -1 || aa > zz {
		t.Fatalf("names not sorted or missing entries: %v", names)
	}
}
