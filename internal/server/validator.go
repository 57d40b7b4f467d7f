package server

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pgedge/recon/pkg/config"
)

type certValidator struct {
	clientCAPool   *x509.CertPool
	allowedCNs     map[string]struct{}
	revokedSerials map[string]struct{}
	crl            *x509.RevocationList
	nextUpdate     time.Time
}

// newCertValidator returns nil when no client CA is configured; the API is
// then served without client authentication.
func newCertValidator(srv config.ServerConfig) (*certValidator, error) {
	caPath := strings.TrimSpace(srv.ClientCAFile)
	if caPath == "" {
		return nil, nil
	}

	caPool, caCerts, err := loadCACerts(caPath)
	if err != nil {
		return nil, err
	}

	allowedCNs := make(map[string]struct{})
	for _, cn := range srv.AllowedCNs {
		if trimmed := strings.TrimSpace(cn); trimmed != "" {
			allowedCNs[trimmed] = struct{}{}
		}
	}

	validator := &certValidator{
		clientCAPool:   caPool,
		allowedCNs:     allowedCNs,
		revokedSerials: make(map[string]struct{}),
	}

	if crlPath := strings.TrimSpace(srv.ClientCRLFile); crlPath != "" {
		crl, err := loadCRL(crlPath, caCerts)
		if err != nil {
			return nil, err
		}
		validator.crl = crl
		validator.nextUpdate = crl.NextUpdate
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber != nil {
				validator.revokedSerials[entry.SerialNumber.String()] = struct{}{}
			}
		}
	}

	return validator, nil
}

// Validate returns the client's common name.
func (v *certValidator) Validate(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("client certificate is missing")
	}
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return "", fmt.Errorf("client certificate not valid before %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return "", fmt.Errorf("client certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}

	commonName := strings.TrimSpace(cert.Subject.CommonName)
	if commonName == "" {
		return "", fmt.Errorf("client certificate is missing a common name (CN)")
	}
	if len(v.allowedCNs) > 0 {
		if _, ok := v.allowedCNs[commonName]; !ok {
			return "", fmt.Errorf("client certificate CN %q is not allowed", commonName)
		}
	}

	if v.crl != nil {
		if !v.nextUpdate.IsZero() && now.After(v.nextUpdate) {
			return "", fmt.Errorf("client CRL expired at %s", v.nextUpdate.Format(time.RFC3339))
		}
		serial := cert.SerialNumber.String()
		if _, revoked := v.revokedSerials[serial]; revoked {
			return "", fmt.Errorf("client certificate with serial %s has been revoked", serial)
		}
	}

	return commonName, nil
}

func loadCACerts(path string) (*x509.CertPool, []*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read client CA file: %w", err)
	}

	pool := x509.NewCertPool()
	var certs []*x509.Certificate
	for remaining := data; len(remaining) > 0; {
		block, rest := pem.Decode(remaining)
		if block == nil {
			break
		}
		remaining = rest
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		pool.AddCert(cert)
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		cert, err := x509.ParseCertificate(data)
		if err != nil {
			return nil, nil, fmt.Errorf("no CA certificates found in %s", path)
		}
		pool.AddCert(cert)
		certs = append(certs, cert)
	}

	return pool, certs, nil
}

func loadCRL(path string, caCerts []*x509.Certificate) (*x509.RevocationList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CRL file: %w", err)
	}

	crlBytes := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "X509 CRL" {
			return nil, fmt.Errorf("expected X509 CRL block, found %s", block.Type)
		}
		crlBytes = block.Bytes
	}

	crl, err := x509.ParseRevocationList(crlBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}

	for _, ca := range caCerts {
		if err := crl.CheckSignatureFrom(ca); err == nil {
			return crl, nil
		}
	}
	return nil, fmt.Errorf("unable to verify CRL signature with configured CA certificates")
}
