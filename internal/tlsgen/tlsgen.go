// Package tlsgen creates a local certificate authority and a server
// certificate signed by it so the app can be served over HTTPS on a LAN.
package tlsgen

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	caCertFile     = "ca.pem"
	caKeyFile      = "ca-key.pem"
	serverCertFile = "server.pem"
	serverKeyFile  = "server-key.pem"
)

// Paths names the files EnsureCerts manages inside a directory.
type Paths struct {
	CACert     string
	CAKey      string
	ServerCert string
	ServerKey  string
}

// PathsIn returns the absolute file locations under dir.
func PathsIn(dir string) (Paths, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		CACert:     filepath.Join(abs, caCertFile),
		CAKey:      filepath.Join(abs, caKeyFile),
		ServerCert: filepath.Join(abs, serverCertFile),
		ServerKey:  filepath.Join(abs, serverKeyFile),
	}, nil
}

// EnsureCerts generates the CA and the server certificate in dir if they are
// missing. Hosts may mix DNS names and IP addresses. Existing files are reused.
func EnsureCerts(dir string, hosts []string) (Paths, error) {
	if len(hosts) == 0 {
		return Paths{}, errors.New("tlsgen: at least one host is required")
	}
	paths, err := PathsIn(dir)
	if err != nil {
		return Paths{}, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create cert directory %s: %w", dir, err)
	}

	caExists, err := exists(paths.CACert)
	if err != nil {
		return Paths{}, err
	}
	if !caExists {
		log.Printf("TLS: CA certificate not found, generating a new one in %s", dir)
		if err := generateCA(paths, hosts[0]); err != nil {
			return Paths{}, fmt.Errorf("failed to generate CA: %w", err)
		}
	}

	serverExists, err := exists(paths.ServerCert)
	if err != nil {
		return Paths{}, err
	}
	if !serverExists || !caExists {
		log.Printf("TLS: generating server certificate for %v", hosts)
		if err := generateServerCert(paths, hosts); err != nil {
			return Paths{}, fmt.Errorf("failed to generate server certificate: %w", err)
		}
	}
	return paths, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
}

func serialNumber() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func generateCA(paths Paths, primary string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Vidlense Local CA"},
			CommonName:   "Vidlense Local CA for " + primary,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	return writePair(paths.CACert, paths.CAKey, der, priv)
}

func generateServerCert(paths Paths, hosts []string) error {
	caCert, caKey, err := loadCA(paths)
	if err != nil {
		return err
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate server private key: %w", err)
	}
	serial, err := serialNumber()
	if err != nil {
		return err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Vidlense"},
			CommonName:   hosts[0],
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, caCert, &priv.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create server certificate: %w", err)
	}
	return writePair(paths.ServerCert, paths.ServerKey, der, priv)
}

func loadCA(paths Paths) (*x509.Certificate, crypto.Signer, error) {
	certPEM, err := os.ReadFile(paths.CACert)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	keyPEM, err := os.ReadFile(paths.CAKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, nil, errors.New("failed to decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return nil, nil, errors.New("failed to decode CA private key PEM (expected PKCS8)")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, errors.New("CA private key cannot sign")
	}
	return cert, signer, nil
}

func writePair(certPath, keyPath string, der []byte, priv *ecdsa.PrivateKey) error {
	if err := writePEM(certPath, 0644, "CERTIFICATE", der); err != nil {
		return err
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("unable to marshal private key: %w", err)
	}
	return writePEM(keyPath, 0600, "PRIVATE KEY", keyBytes)
}

func writePEM(path string, perm os.FileMode, blockType string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: data}); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing %s: %w", path, err)
	}
	return nil
}
