// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opcua

import (
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// Credential authenticates ActivateSession. The client does not keep a
// reference to it once ActivateSession returns.
type Credential struct {
	Policy   UserTokenPolicy
	Identity []byte // user name, or certificate (PEM or DER)
	Secret   []byte // password, or private key (PEM or DER)
}

// AnonymousCredential creates an anonymous credential for the policy.
func AnonymousCredential(policy UserTokenPolicy) Credential {
	return Credential{Policy: policy}
}

// UserNameCredential creates a user name and password credential.
func UserNameCredential(policy UserTokenPolicy, username, password string) Credential {
	return Credential{
		Policy:   policy,
		Identity: []byte(username),
		Secret:   []byte(password),
	}
}

// CertificateCredential creates an X.509 credential. key may be nil when the
// relay holds the private key itself.
func CertificateCredential(policy UserTokenPolicy, cert, key []byte) Credential {
	return Credential{
		Policy:   policy,
		Identity: cert,
		Secret:   key,
	}
}

// TokenType returns the token type of the credential's policy.
func (c Credential) TokenType() UserTokenType {
	return c.Policy.TokenType
}

// params builds the ActivateSession parameters. Binary certificate and key
// payloads are PEM armoured so they travel as text.
func (c Credential) params() (activateSessionParams, error) {
	p := activateSessionParams{
		TokenType: c.Policy.TokenType,
		PolicyID:  c.Policy.PolicyID,
	}
	switch c.Policy.TokenType {
	case UserTokenTypeAnonymous:
	case UserTokenTypeUserName:
		p.Identity = string(c.Identity)
		p.Secret = string(c.Secret)
	case UserTokenTypeCertificate:
		if len(c.Identity) == 0 {
			return p, errors.New("opcua: certificate credential without certificate")
		}
		p.Identity = string(armour(c.Identity, "CERTIFICATE"))
		if len(c.Secret) > 0 {
			p.Secret = string(armour(c.Secret, "PRIVATE KEY"))
		}
	default:
		p.Identity = string(c.Identity)
		p.Secret = string(c.Secret)
	}
	return p, nil
}

func isPEM(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN"))
}

func armour(data []byte, blockType string) []byte {
	if isPEM(data) {
		return data
	}
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: data})
}

// LoadCertificate parses a PEM or DER encoded certificate and returns it
// together with its DER bytes.
func LoadCertificate(data []byte) (*x509.Certificate, []byte, error) {
	der := data
	if isPEM(data) {
		block, _ := pem.Decode(bytes.TrimSpace(data))
		if block == nil {
			return nil, nil, fmt.Errorf("failed to decode PEM block")
		}
		if block.Type != "CERTIFICATE" {
			return nil, nil, fmt.Errorf("expected CERTIFICATE, got %s", block.Type)
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, der, nil
}

// CheckPrivateKey verifies that data holds a parseable PKCS#1, PKCS#8 or
// EC private key, PEM or DER encoded.
func CheckPrivateKey(data []byte) error {
	der := data
	if isPEM(data) {
		block, _ := pem.Decode(bytes.TrimSpace(data))
		if block == nil {
			return fmt.Errorf("failed to decode PEM block")
		}
		der = block.Bytes
	}
	if _, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return nil
	}
	if _, err := x509.ParseECPrivateKey(der); err == nil {
		return nil
	}
	return errors.New("unsupported private key encoding")
}

// Thumbprint computes the SHA-1 thumbprint of a DER encoded certificate.
func Thumbprint(derCert []byte) []byte {
	h := sha1.Sum(derCert)
	return h[:]
}

// DecodeCertificateBlob turns a certificate as relayed in JSON into DER. The
// relay may send a base64 string, a PEM string or an array of bytes.
func DecodeCertificateBlob(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if !present(raw) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		if isPEM([]byte(s)) {
			_, der, err := LoadCertificate([]byte(s))
			return der, err
		}
		return base64.StdEncoding.DecodeString(s)
	case '[':
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return nil, err
		}
		arr := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("certificate byte %d out of range", v)
			}
			arr[i] = byte(v)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unsupported certificate encoding %.16s", raw)
}

// CertificateInfo summarises a server certificate for display.
type CertificateInfo struct {
	Subject    string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	Thumbprint string
}

// InspectCertificate parses a relayed certificate blob.
func InspectCertificate(raw json.RawMessage) (*CertificateInfo, error) {
	der, err := DecodeCertificateBlob(raw)
	if err != nil {
		return nil, err
	}
	if len(der) == 0 {
		return nil, nil
	}
	cert, _, err := LoadCertificate(der)
	if err != nil {
		return nil, err
	}
	return &CertificateInfo{
		Subject:    cert.Subject.String(),
		Issuer:     cert.Issuer.String(),
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		Thumbprint: hex.EncodeToString(Thumbprint(der)),
	}, nil
}
