package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/eidolon/eidolon/internal/domain"
)

func writeModuleDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestCanonicalHashIsDeterministic(t *testing.T) {
	files := map[string]string{
		"module.yaml": "name: m\n",
		"impl.go":     "package m\n",
		"sub/data":    "payload",
	}
	a := writeModuleDir(t, files)
	b := writeModuleDir(t, files)

	ha, err := CanonicalHash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := CanonicalHash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("same content hashed differently: %s vs %s", ha, hb)
	}
	if len(ha) != 64 {
		t.Fatalf("hash %q is not a sha256 hex string", ha)
	}
}

func TestCanonicalHashIgnoresTransientFiles(t *testing.T) {
	base := map[string]string{"module.yaml": "name: m\n", "impl.go": "code"}
	clean := writeModuleDir(t, base)

	noisy := map[string]string{
		"module.yaml":          "name: m\n",
		"impl.go":              "code",
		"module.sig":           "signature bytes",
		"__pycache__/impl.pyc": "compiled",
		"compiled.pyc":         "compiled",
	}
	dirty := writeModuleDir(t, noisy)

	hc, _ := CanonicalHash(clean)
	hd, _ := CanonicalHash(dirty)
	if hc != hd {
		t.Fatal("signature, cache, and compiled files must not affect the hash")
	}
}

func TestCanonicalHashChangesWithContent(t *testing.T) {
	a := writeModuleDir(t, map[string]string{"module.yaml": "name: m\n"})
	b := writeModuleDir(t, map[string]string{"module.yaml": "name: other\n"})
	ha, _ := CanonicalHash(a)
	hb, _ := CanonicalHash(b)
	if ha == hb {
		t.Fatal("different content must hash differently")
	}
}

func TestSignerStoreAddRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted_signers.json")
	key := testKey(t)

	store, err := LoadSignerStore(path)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(store.All()) != 0 {
		t.Fatal("fresh store should be empty")
	}

	before, _ := os.ReadFile(path)

	if err := store.Add("alice", publicPEM(t, key), "release signer"); err != nil {
		t.Fatalf("add: %v", err)
	}

	reloaded, err := LoadSignerStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entry, ok := reloaded.All()["alice"]
	if !ok || entry.Comment != "release signer" {
		t.Fatalf("persisted entry = %+v", entry)
	}

	removed, err := store.Remove("alice")
	if err != nil || !removed {
		t.Fatalf("remove = (%v, %v)", removed, err)
	}

	after, _ := os.ReadFile(path)
	if len(before) == 0 && string(after) != "{}" {
		t.Fatalf("store after add+remove = %q, want empty object", after)
	}

	removed, err = store.Remove("alice")
	if err != nil || removed {
		t.Fatal("removing an absent signer should report false, nil")
	}
}

func TestSignerStoreRejectsBadKey(t *testing.T) {
	store, err := LoadSignerStore(filepath.Join(t.TempDir(), "signers.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Add("bob", "not a pem", ""); err == nil {
		t.Fatal("expected an invalid-key error")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := testKey(t)
	store, err := LoadSignerStore(filepath.Join(t.TempDir(), "signers.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Add("alice", publicPEM(t, key), ""); err != nil {
		t.Fatal(err)
	}

	dir := writeModuleDir(t, map[string]string{"module.yaml": "name: m\n", "impl.go": "code"})
	hash, err := CanonicalHash(dir)
	if err != nil {
		t.Fatal(err)
	}

	sig, err := SignWithPrivateKey(key, hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := WriteSignature(dir, sig); err != nil {
		t.Fatalf("write signature: %v", err)
	}

	rec := Verify(dir, store)
	if rec.Status != domain.VerificationVerified {
		t.Fatalf("status = %s, want verified", rec.Status)
	}
	if rec.SignerID != "alice" {
		t.Fatalf("signer = %q, want alice", rec.SignerID)
	}
	if rec.Hash != hash {
		t.Fatalf("recorded hash %q != computed %q", rec.Hash, hash)
	}
}

func TestVerifyUnsignedModule(t *testing.T) {
	store, _ := LoadSignerStore(filepath.Join(t.TempDir(), "signers.json"))
	dir := writeModuleDir(t, map[string]string{"module.yaml": "name: m\n"})

	rec := Verify(dir, store)
	if rec.Status != domain.VerificationUnsigned {
		t.Fatalf("status = %s, want unsigned", rec.Status)
	}
}

func TestVerifyTamperedModuleIsInvalid(t *testing.T) {
	key := testKey(t)
	store, _ := LoadSignerStore(filepath.Join(t.TempDir(), "signers.json"))
	store.Add("alice", publicPEM(t, key), "")

	dir := writeModuleDir(t, map[string]string{"module.yaml": "name: m\n"})
	hash, _ := CanonicalHash(dir)
	sig, _ := SignWithPrivateKey(key, hash)
	WriteSignature(dir, sig)

	// Change the content after signing.
	os.WriteFile(filepath.Join(dir, "module.yaml"), []byte("name: tampered\n"), 0644)

	rec := Verify(dir, store)
	if rec.Status != domain.VerificationInvalid {
		t.Fatalf("status = %s, want invalid", rec.Status)
	}
}

func TestVerifySignedByUntrustedKeyIsInvalid(t *testing.T) {
	signing := testKey(t)
	trusted := testKey(t)

	store, _ := LoadSignerStore(filepath.Join(t.TempDir(), "signers.json"))
	store.Add("alice", publicPEM(t, trusted), "")

	dir := writeModuleDir(t, map[string]string{"module.yaml": "name: m\n"})
	hash, _ := CanonicalHash(dir)
	sig, _ := SignWithPrivateKey(signing, hash)
	WriteSignature(dir, sig)

	rec := Verify(dir, store)
	if rec.Status != domain.VerificationInvalid {
		t.Fatalf("status = %s, want invalid for an untrusted signature", rec.Status)
	}
}

func TestDecidePolicies(t *testing.T) {
	verified := domain.VerificationRecord{Status: domain.VerificationVerified}
	unsigned := domain.VerificationRecord{Status: domain.VerificationUnsigned}

	if !Decide(verified, domain.SecurityModeParanoid, false, nil) {
		t.Fatal("verified modules run in every mode")
	}
	if Decide(unsigned, domain.SecurityModeParanoid, false, nil) {
		t.Fatal("paranoid mode must exclude unsigned modules")
	}
	if !Decide(unsigned, domain.SecurityModePermissive, false, nil) {
		t.Fatal("permissive mode allows unsigned modules")
	}
	if !Decide(unsigned, domain.SecurityModeDefault, true, nil) {
		t.Fatal("allow-unverified bypasses the prompt in default mode")
	}
	if Decide(unsigned, domain.SecurityModeDefault, false, nil) {
		t.Fatal("default mode without a prompt must exclude")
	}

	prompted := false
	allow := func(domain.VerificationRecord) bool { prompted = true; return true }
	if !Decide(unsigned, domain.SecurityModeDefault, false, allow) {
		t.Fatal("prompt approval should allow the module")
	}
	if !prompted {
		t.Fatal("prompt was not consulted")
	}
}
