package security

import (
	"fmt"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
)

// Verify computes moduleDir's canonical hash and checks any module.sig
// against store, producing a VerificationRecord. A signature that exists
// but verifies under no trusted signer is Invalid; there is no attempt
// to distinguish "signed by an untrusted key" from a corrupt signature,
// since a raw detached signature carries no signer identity to check.
func Verify(moduleDir string, store *SignerStore) domain.VerificationRecord {
	rec := domain.VerificationRecord{ModulePath: moduleDir}

	hash, err := CanonicalHash(moduleDir)
	if err != nil {
		logging.Op().Error("computing canonical module hash failed", "module", moduleDir, "error", err)
		rec.Status = domain.VerificationError
		return rec
	}
	rec.Hash = hash

	sig, err := ReadSignature(moduleDir)
	if err != nil {
		logging.Op().Error("reading module signature failed", "module", moduleDir, "error", err)
		rec.Status = domain.VerificationError
		return rec
	}
	if sig == nil {
		rec.Status = domain.VerificationUnsigned
		return rec
	}

	signerID, ok := store.FindSigner(hash, sig)
	if !ok {
		rec.Status = domain.VerificationInvalid
		return rec
	}
	rec.Status = domain.VerificationVerified
	rec.SignerID = signerID
	return rec
}

// Decide applies the security-mode policy to a verification record,
// deciding whether the module may run. prompt is
// consulted only in SecurityModeDefault for a non-Verified status when
// allowUnverified is false; it returns true to allow the module for this
// run.
func Decide(rec domain.VerificationRecord, mode domain.SecurityMode, allowUnverified bool, prompt func(domain.VerificationRecord) bool) bool {
	if rec.Status == domain.VerificationVerified {
		return true
	}

	switch mode {
	case domain.SecurityModeParanoid:
		logging.Op().Warn("module excluded in paranoid mode", "module", rec.ModulePath, "status", rec.Status)
		return false
	case domain.SecurityModePermissive:
		logging.Op().Warn("running unverified module", "module", rec.ModulePath, "status", rec.Status)
		return true
	}

	// SecurityModeDefault.
	if allowUnverified {
		logging.Op().Warn("running unverified module (--allow-unverified)", "module", rec.ModulePath, "status", rec.Status)
		return true
	}
	if prompt == nil {
		logging.Op().Warn("module excluded: no prompt available in default security mode", "module", rec.ModulePath, "status", rec.Status)
		return false
	}
	return prompt(rec)
}

// StatusMessage renders a human-readable explanation of a non-Verified
// status, used by the CLI's interactive prompt.
func StatusMessage(status domain.VerificationStatus) string {
	switch status {
	case domain.VerificationUnsigned:
		return "unsigned"
	case domain.VerificationInvalid:
		return "has an INVALID signature"
	case domain.VerificationError:
		return "could not be verified due to an error"
	default:
		return fmt.Sprintf("unknown status %q", status)
	}
}
