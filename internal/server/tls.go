package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"os"
	"time"
)

const (
	devCertFile     = "dev_cert.pem"
	devKeyFile      = "dev_key.pem"
	devCertValidity = 10 * 24 * time.Hour
)

// generateSelfSignedTLSConfig 开发环境自签证书
// 证书落盘缓存复用，客户端可以固定指纹；生产环境必须走配置里的证书路径
func generateSelfSignedTLSConfig() (*tls.Config, error) {
	if cert, err := tls.LoadX509KeyPair(devCertFile, devKeyFile); err == nil {
		slog.Info("Loaded existing dev certificate", "cert", devCertFile)
		return newDevTLSConfig(cert), nil
	}

	slog.Info("Generating new dev certificate...")
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Sync Dev"}},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(devCertValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}

	if err := writePEM(devCertFile, "CERTIFICATE", certDER, 0644); err != nil {
		return nil, err
	}
	// 私钥只对进程属主可读
	if err := writePEM(devKeyFile, "EC PRIVATE KEY", keyDER, 0600); err != nil {
		return nil, err
	}
	slog.Info("Dev certificate saved", "cert", devCertFile, "key", devKeyFile)

	cert, err := tls.LoadX509KeyPair(devCertFile, devKeyFile)
	if err != nil {
		return nil, err
	}
	return newDevTLSConfig(cert), nil
}

// newDevTLSConfig WebTransport 要求 TLS 1.3，ALPN 同时声明 h3 与 webtransport
func newDevTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "webtransport"},
		MinVersion:   tls.VersionTLS13,
	}
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	return pem.Encode(out, &pem.Block{Type: blockType, Bytes: der})
}
