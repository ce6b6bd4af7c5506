// Package security implements module integrity verification: a
// deterministic canonical hash over a module directory, RSA-PSS detached
// signature checking against a store of trusted signers, and the
// security-mode policy (paranoid/default/permissive) that decides
// whether an unverified module is allowed to run.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const signatureFilename = "module.sig"

// CanonicalHash computes the deterministic SHA-256 hash of a module
// directory: every file's contents, concatenated in sorted full-path
// order, excluding module.sig, anything under a __pycache__-style cache
// directory, and compiled-artifact files (.pyc or analog). Returned as
// a lowercase hex string.
func CanonicalHash(moduleDir string) (string, error) {
	info, err := os.Stat(moduleDir)
	if err != nil {
		return "", fmt.Errorf("stat module dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", moduleDir)
	}

	var files []string
	err = filepath.Walk(moduleDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if shouldSkip(path, info.Name()) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking module dir: %w", err)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", f, err)
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func shouldSkip(path, name string) bool {
	if name == signatureFilename {
		return true
	}
	if name == "__pycache__" {
		return true
	}
	if strings.HasSuffix(name, ".pyc") {
		return true
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == "__pycache__" {
			return true
		}
	}
	return false
}

// ReadSignature reads <moduleDir>/module.sig, returning (nil, nil) when
// the file does not exist (an unsigned module, not an error).
func ReadSignature(moduleDir string) ([]byte, error) {
	path := filepath.Join(moduleDir, signatureFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// WriteSignature writes sig to <moduleDir>/module.sig, used by the CLI's
// `sign` command.
func WriteSignature(moduleDir string, sig []byte) error {
	return os.WriteFile(filepath.Join(moduleDir, signatureFilename), sig, 0644)
}
