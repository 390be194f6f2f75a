// Package main generates a development Certificate Authority (CA) and a
// server certificate signed by it, writing them under -dir. Point the
// server at server.crt/server.key with -tls-cert/-tls-key and the client
// at ca.crt with -ca.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atinyakov/firewatch/internal/certgen"
)

func main() {
	dir := flag.String("dir", "certs", "output directory")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	flag.Parse()

	if err := generate(*dir, strings.Split(*hosts, ",")); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Certificates generated into", *dir)
}

// generate writes ca.crt, ca.key, server.crt and server.key into dir.
// An existing CA in dir is reused so clients keep trusting it.
func generate(dir string, hosts []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	caCertPath := filepath.Join(dir, "ca.crt")
	caKeyPath := filepath.Join(dir, "ca.key")

	caCert, caKey, err := certgen.LoadCACredentials(caCertPath, caKeyPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cert, key, err := certgen.GenerateCA("firewatch dev CA", 10*365*24*time.Hour)
		if err != nil {
			return err
		}
		keyPEM, err := certgen.EncodeKey(key)
		if err != nil {
			return err
		}
		if err := os.WriteFile(caCertPath, certgen.EncodeCertificate(cert), 0o644); err != nil {
			return err
		}
		if err := os.WriteFile(caKeyPath, keyPEM, 0o600); err != nil {
			return err
		}
		caCert, caKey = cert, key
	}

	certPEM, keyPEM, err := certgen.GenerateServerCertificate(hosts, caCert, caKey, 365*24*time.Hour)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "server.crt"), certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "server.key"), keyPEM, 0o600)
}
