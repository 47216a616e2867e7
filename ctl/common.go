// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// UsageError is wrapped by errors which are the caller's fault, so the
// command line can print usage for them.
var UsageError = errors.New("usage error")

// TLSConfig is the client side TLS configuration.
type TLSConfig struct {
	// CertificatePath contains the path to the certificate (.crt or .pem file)
	CertificatePath string `toml:"certificate"`
	// CertificateKeyPath contains the path to the certificate key (.key file)
	CertificateKeyPath string `toml:"key"`
	// CACertPath is the path to a CA certificate used to verify the cluster.
	CACertPath string `toml:"ca-certificate"`
	// SkipVerify disables verification for self-signed certificates
	SkipVerify bool `toml:"skip-verify"`
}

// SetTLSConfig creates common TLS flags
func SetTLSConfig(flags *pflag.FlagSet, prefix string, cfg *TLSConfig) {
	flags.StringVarP(&cfg.CertificatePath, prefix+"tls.certificate", "", "", "TLS certificate path (usually has the .crt or .pem extension")
	flags.StringVarP(&cfg.CertificateKeyPath, prefix+"tls.key", "", "", "TLS certificate key path (usually has the .key extension")
	flags.StringVarP(&cfg.CACertPath, prefix+"tls.ca-certificate", "", "", "TLS CA certificate path")
	flags.BoolVarP(&cfg.SkipVerify, prefix+"tls.skip-verify", "", false, "Skip TLS certificate verification (not secure)")
}

// Enabled reports whether any TLS setting was given.
func (c TLSConfig) Enabled() bool {
	return c.CertificatePath != "" || c.CACertPath != "" || c.SkipVerify
}

// ClientTLSConfig builds a *tls.Config from c. It returns nil, nil when
// TLS is not configured.
func (c TLSConfig) ClientTLSConfig() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: c.SkipVerify, // nolint: gosec
	}
	if c.CertificatePath != "" {
		if c.CertificateKeyPath == "" {
			return nil, errors.Wrap(UsageError, "tls.key is required with tls.certificate")
		}
		cert, err := tls.LoadX509KeyPair(c.CertificatePath, c.CertificateKeyPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading keypair")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CACertPath != "" {
		pem, err := os.ReadFile(c.CACertPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading CA certificate")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", c.CACertPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
