package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"

	"sockwrap/config"
	ncerr "sockwrap/internal/errors"
)

// errNoCerts is returned when CA material holds no certificate.
var errNoCerts = errors.New("no certificates found in PEM data")

// NewTLSConfig builds the client TLS configuration for creds.  host is
// used for SNI and verification when creds.ServerName is empty.
//
// RequestCert only has meaning for accepting sockets; the dialing side
// always presents its key pair when the server asks for one.
func NewTLSConfig(creds config.Credentials, host string) (*tls.Config, error) {
	keyPEM, err := material(creds.Key, creds.KeyFile, "key")
	if err != nil {
		return nil, err
	}
	certPEM, err := material(creds.Cert, creds.CertFile, "cert")
	if err != nil {
		return nil, err
	}

	conf := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         creds.ServerName,
		InsecureSkipVerify: !creds.RejectUnauthorized, //nolint:gosec // explicit opt-out
	}
	if conf.ServerName == "" {
		conf.ServerName = host
	}

	if len(keyPEM) > 0 || len(certPEM) > 0 {
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "cert", Message: "cannot load key pair", Err: err}
		}
		conf.Certificates = []tls.Certificate{pair}
	}

	caPEM, err := material(creds.CA, creds.CAFile, "ca")
	if err != nil {
		return nil, err
	}
	if len(caPEM) > 0 {
		pool, err := certPool(caPEM)
		if err != nil {
			return nil, &ncerr.ConfigError{Field: "ca", Message: "cannot load trust anchors", Err: err}
		}
		conf.RootCAs = pool
	}

	return conf, nil
}

// material returns inline PEM bytes, or the contents of path.
func material(inline []byte, path, field string) ([]byte, error) {
	if len(inline) > 0 || path == "" {
		return inline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ncerr.ConfigError{Field: field, Value: path, Message: "cannot read file", Err: err}
	}
	return data, nil
}

// certPool parses every CERTIFICATE block in pemData.  Other block
// types are skipped.
func certPool(pemData []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	added := 0
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return nil, errNoCerts
	}
	return pool, nil
}
