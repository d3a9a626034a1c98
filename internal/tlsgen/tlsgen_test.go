package tlsgen

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
)

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatalf("%s: no PEM block", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func TestEnsureCerts(t *testing.T) {
	dir := t.TempDir()
	paths, err := EnsureCerts(dir, []string{"vidlense.local", "192.168.1.20"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tls.LoadX509KeyPair(paths.ServerCert, paths.ServerKey); err != nil {
		t.Fatalf("server pair unusable: %v", err)
	}

	ca := readCert(t, paths.CACert)
	server := readCert(t, paths.ServerCert)
	roots := x509.NewCertPool()
	roots.AddCert(ca)

	for _, host := range []string{"vidlense.local", "192.168.1.20"} {
		if _, err := server.Verify(x509.VerifyOptions{DNSName: host, Roots: roots}); err != nil {
			t.Errorf("verify %s: %v", host, err)
		}
	}
	if _, err := server.Verify(x509.VerifyOptions{DNSName: "other.example", Roots: roots}); err == nil {
		t.Error("certificate should not cover other hosts")
	}

	info, err := os.Stat(paths.ServerKey)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key permissions = %v", info.Mode().Perm())
	}
}

func TestEnsureCertsReusesExisting(t *testing.T) {
	dir := t.TempDir()
	first, err := EnsureCerts(dir, []string{"localhost"})
	if err != nil {
		t.Fatal(err)
	}
	before := readCert(t, first.ServerCert)

	second, err := EnsureCerts(dir, []string{"localhost"})
	if err != nil {
		t.Fatal(err)
	}
	after := readCert(t, second.ServerCert)
	if before.SerialNumber.Cmp(after.SerialNumber) != 0 {
		t.Error("existing server certificate was regenerated")
	}
}

func TestEnsureCertsRequiresHost(t *testing.T) {
	if _, err := EnsureCerts(t.TempDir(), nil); err == nil {
		t.Error("expected an error without hosts")
	}
}
