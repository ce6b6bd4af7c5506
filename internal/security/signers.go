package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
)

// SignerEntry is one trusted signer's public key material and an
// operator-facing comment, the per-entry shape of trusted_signers.json.
type SignerEntry struct {
	PubKey  string `json:"pubkey"`
	Comment string `json:"comment"`
}

// SignerStore is a JSON-file-backed table of (signer-id -> public key,
// comment) pairs: load once, mutate via Add/Remove, persist the whole
// file on every mutation. An explicit collaborator with a scoped
// lifetime, never a process singleton.
type SignerStore struct {
	mu      sync.Mutex
	path    string
	signers map[string]SignerEntry
}

// LoadSignerStore reads path, tolerating a missing file (an empty,
// freshly-initialized store — the first `eidolon trust add` creates it).
func LoadSignerStore(path string) (*SignerStore, error) {
	s := &SignerStore{path: path, signers: make(map[string]SignerEntry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading trusted signers file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.signers); err != nil {
		return nil, fmt.Errorf("parsing trusted signers file: %w", err)
	}
	return s, nil
}

func (s *SignerStore) save() error {
	data, err := json.MarshalIndent(s.signers, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Add registers signer-id with the given PEM-encoded public key and
// comment, validating the key parses before persisting.
func (s *SignerStore) Add(signerID, pubKeyPEM, comment string) error {
	if _, err := parsePublicKey(pubKeyPEM); err != nil {
		return fmt.Errorf("invalid public key for signer %q: %w", signerID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers[signerID] = SignerEntry{PubKey: pubKeyPEM, Comment: comment}
	if err := s.save(); err != nil {
		return fmt.Errorf("saving trusted signers file: %w", err)
	}
	return nil
}

// Remove deletes signer-id, returning false if it wasn't present.
func (s *SignerStore) Remove(signerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signers[signerID]; !ok {
		return false, nil
	}
	delete(s.signers, signerID)
	if err := s.save(); err != nil {
		return false, fmt.Errorf("saving trusted signers file: %w", err)
	}
	return true, nil
}

// All returns a snapshot copy of every trusted signer.
func (s *SignerStore) All() map[string]SignerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SignerEntry, len(s.signers))
	for k, v := range s.signers {
		out[k] = v
	}
	return out
}

// PublicKey returns the parsed RSA public key for signerID.
func (s *SignerStore) PublicKey(signerID string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	entry, ok := s.signers[signerID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown signer %q", signerID)
	}
	return parsePublicKey(entry.PubKey)
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

// VerifySignature checks sig against hexHash under signerID's public
// key, using RSA-PSS with MGF1-SHA256 and salt length equal to the
// digest length. Verification is performed over the hex-ASCII bytes of
// the canonical hash, not the raw digest bytes; signers must be
// bit-exact on this point to interoperate.
func (s *SignerStore) VerifySignature(hexHash string, sig []byte, signerID string) bool {
	pub, err := s.PublicKey(signerID)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(hexHash))
	err = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	return err == nil
}

// FindSigner returns the first trusted signer whose key verifies sig
// against hexHash, or ("", false) if none does.
func (s *SignerStore) FindSigner(hexHash string, sig []byte) (string, bool) {
	for id := range s.All() {
		if s.VerifySignature(hexHash, sig, id) {
			return id, true
		}
	}
	return "", false
}

// SignWithPrivateKey produces a detached RSA-PSS signature over hexHash's
// ASCII bytes, for the CLI's `eidolon sign` command.
func SignWithPrivateKey(priv *rsa.PrivateKey, hexHash string) ([]byte, error) {
	digest := sha256.Sum256([]byte(hexHash))
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
}
