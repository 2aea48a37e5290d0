package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TLSSecurity verifies the backend against a CA certificate file.
type TLSSecurity struct {
	caFileName string
	serverName string
}

// NewTLSSecurity creates a TLSSecurity trusting the PEM certificates in caFileName.
// An empty serverName uses the host part of the dialed address.
func NewTLSSecurity(caFileName, serverName string) *TLSSecurity {
	return &TLSSecurity{
		caFileName: caFileName,
		serverName: serverName,
	}
}

// TransportCredentials loads the CA file and returns TLS credentials.
func (s *TLSSecurity) TransportCredentials() (credentials.TransportCredentials, error) {
	pem, err := os.ReadFile(s.caFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to load CA certificate: no certificates in %s", s.caFileName)
	}

	return credentials.NewTLS(&tls.Config{
		RootCAs:    pool,
		ServerName: s.serverName,
		MinVersion: tls.VersionTLS12,
	}), nil
}

// PlainSecurity dials without transport security.
type PlainSecurity struct{}

// NewPlainSecurity creates a PlainSecurity.
func NewPlainSecurity() *PlainSecurity {
	return &PlainSecurity{}
}

// TransportCredentials returns insecure credentials.
func (s *PlainSecurity) TransportCredentials() (credentials.TransportCredentials, error) {
	return insecure.NewCredentials(), nil
}
