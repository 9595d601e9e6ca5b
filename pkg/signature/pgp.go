package signature

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/model"
)

// elfSignatureSections are section names that may carry an embedded
// OpenPGP signature.
var elfSignatureSections = []string{".note.signature", ".sig"}

// VerifyELF checks an ELF binary for a PGP signature: a detached
// <path>.sig file first, then the conventional signature sections.
//
// Absence of the signer's public key is not proof of invalidity, so a
// failed verification yields ValidityKnown=false rather than a negative
// result.
func VerifyELF(data []byte, path string) model.SignatureResult {
	if path != "" {
		if sigData, err := os.ReadFile(path + ".sig"); err == nil {
			return verifyPGP(data, sigData, "pgp-detached")
		}
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return model.SignatureResult{TrustLevel: model.TrustUnsigned, ValidityKnown: true}
	}
	defer f.Close()

	for _, name := range elfSignatureSections {
		sec := f.Section(name)
		if sec == nil {
			continue
		}
		sigData, err := sec.Data()
		if err != nil || len(sigData) == 0 {
			continue
		}
		return verifyPGP(data, sigData, "pgp-embedded")
	}

	return model.SignatureResult{TrustLevel: model.TrustUnsigned, ValidityKnown: true}
}

// verifyPGP extracts signature metadata from the OpenPGP packet stream
// and attempts cryptographic verification against discovered keyrings.
func verifyPGP(signed, sigData []byte, sigType string) model.SignatureResult {
	result := model.SignatureResult{
		Signed:        true,
		SignatureType: sigType,
		TrustLevel:    model.TrustUnknown,
	}

	// Metadata pass: issuer fingerprint/key id and creation time are
	// readable without any key material.
	pr := packet.NewReader(bytes.NewReader(sigData))
	for {
		p, err := pr.Next()
		if err != nil {
			break
		}
		sig, ok := p.(*packet.Signature)
		if !ok {
			continue
		}
		if len(sig.IssuerFingerprint) > 0 {
			result.SignerName = "key " + hex.EncodeToString(sig.IssuerFingerprint)
		} else if sig.IssuerKeyId != nil {
			result.SignerName = "key id " + hex.EncodeToString(u64be(*sig.IssuerKeyId))
		}
		if !sig.CreationTime.IsZero() {
			result.SigningTime = sig.CreationTime
		}
		break
	}
	if result.SignerName == "" {
		result.SignerName = "pgp signature present"
	}

	keyring := loadKeyrings()
	if len(keyring) == 0 {
		// ValidityKnown stays false: no key material to judge with.
		return result
	}

	signer, err := openpgp.CheckDetachedSignature(
		keyring, bytes.NewReader(signed), bytes.NewReader(sigData), nil)
	if err != nil {
		logger.Debug("pgp verification inconclusive", logger.Err(err))
		return result
	}

	result.ValidityKnown = true
	result.CryptographicValid = true
	if signer != nil {
		for _, ident := range signer.Identities {
			result.SignerName = ident.Name
			break
		}
	}
	return result
}

// loadKeyrings reads public keys from GNUPGHOME (when set) and the
// default user keyring locations. Unparseable keyrings are skipped.
func loadKeyrings() openpgp.EntityList {
	var paths []string
	if gnupgHome := os.Getenv("GNUPGHOME"); gnupgHome != "" {
		paths = append(paths, filepath.Join(gnupgHome, "pubring.gpg"), filepath.Join(gnupgHome, "pubring.kbx"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".gnupg", "pubring.gpg"),
			filepath.Join(home, ".gnupg", "pubring.kbx"))
	}

	var all openpgp.EntityList
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		entities, err := openpgp.ReadKeyRing(f)
		f.Close()
		if err != nil {
			continue
		}
		all = append(all, entities...)
	}
	return all
}

func u64be(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}
