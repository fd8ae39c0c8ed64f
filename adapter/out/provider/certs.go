// Package provider implements the outbound mail provider adapters.
package provider

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"sync"

	"mailbridge/pkg/logger"
)

var (
	caOnce sync.Once
	caPool *x509.CertPool
)

// loadCAPool reads every *.crt file under dir into a certificate pool.
// The pool is built once per process and shared read-only afterwards; a
// missing or empty directory falls back to the system pool.
func loadCAPool(dir string) *x509.CertPool {
	caOnce.Do(func() {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if dir == "" {
			caPool = pool
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			logger.WithError(err).Warn("certs dir %s unreadable, using system pool", dir)
			caPool = pool
			return
		}
		loaded := 0
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".crt" {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				logger.WithError(err).Warn("skipping unreadable certificate %s", entry.Name())
				continue
			}
			if pool.AppendCertsFromPEM(pem) {
				loaded++
			}
		}
		if loaded > 0 {
			logger.Info("loaded %d custom CA certificates from %s", loaded, dir)
		}
		caPool = pool
	})
	return caPool
}

// tlsConfig builds the client TLS config for a host. rejectUnauthorized
// false is for development against self-signed test servers only.
func tlsConfig(host, certsDir string, rejectUnauthorized bool) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		RootCAs:            loadCAPool(certsDir),
		InsecureSkipVerify: !rejectUnauthorized,
	}
}
