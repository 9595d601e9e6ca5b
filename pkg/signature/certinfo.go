package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/marmos91/triage/pkg/model"
)

// keyUsageNames maps x509.KeyUsage bits to their conventional names.
var keyUsageNames = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "nonRepudiation"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
}

var extKeyUsageNames = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "any",
	x509.ExtKeyUsageServerAuth:      "serverAuth",
	x509.ExtKeyUsageClientAuth:      "clientAuth",
	x509.ExtKeyUsageCodeSigning:     "codeSigning",
	x509.ExtKeyUsageEmailProtection: "emailProtection",
	x509.ExtKeyUsageTimeStamping:    "timeStamping",
	x509.ExtKeyUsageOCSPSigning:     "ocspSigning",
}

// certificateInfo flattens an x509.Certificate into the report model.
func certificateInfo(cert *x509.Certificate, now time.Time) model.Certificate {
	sha1Sum := sha1.Sum(cert.Raw)
	sha256Sum := sha256.Sum256(cert.Raw)

	info := model.Certificate{
		SubjectDN:        cert.Subject.String(),
		SubjectCN:        cert.Subject.CommonName,
		IssuerDN:         cert.Issuer.String(),
		IssuerCN:         cert.Issuer.CommonName,
		SerialHex:        hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:        cert.NotBefore,
		NotAfter:         cert.NotAfter,
		TimeValid:        !now.Before(cert.NotBefore) && !now.After(cert.NotAfter),
		SignatureAlgo:    cert.SignatureAlgorithm.String(),
		SHA1Thumbprint:   hex.EncodeToString(sha1Sum[:]),
		SHA256Thumbprint: hex.EncodeToString(sha256Sum[:]),
		SelfSigned:       bytes.Equal(cert.RawSubject, cert.RawIssuer),
	}

	for _, ku := range keyUsageNames {
		if cert.KeyUsage&ku.bit != 0 {
			info.KeyUsage = append(info.KeyUsage, ku.name)
		}
	}
	for _, eku := range cert.ExtKeyUsage {
		if name, ok := extKeyUsageNames[eku]; ok {
			info.ExtKeyUsage = append(info.ExtKeyUsage, name)
		}
		if eku == x509.ExtKeyUsageCodeSigning {
			info.CodeSigningEKU = true
		}
	}

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.PublicKeyAlgo = "RSA"
		info.PublicKeyBits = pub.N.BitLen()
	case *ecdsa.PublicKey:
		info.PublicKeyAlgo = "ECDSA"
		info.PublicKeyBits = pub.Curve.Params().BitSize
	case ed25519.PublicKey:
		info.PublicKeyAlgo = "Ed25519"
		info.PublicKeyBits = 256
	default:
		info.PublicKeyAlgo = cert.PublicKeyAlgorithm.String()
	}

	return info
}
