package validation

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AWS Nitro Enclaves Root-G1, P-384, expires 2049-10-28.
// https://docs.aws.amazon.com/enclaves/latest/user/verify-root.html
const awsNitroRootCA = `-----BEGIN CERTIFICATE-----
MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL
MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD
VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4
MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL
DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG
BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb
48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE
h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF
R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC
MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW
rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N
IwLz3/Y=
-----END CERTIFICATE-----`

var nitroRoots = sync.OnceValues(func() (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(awsNitroRootCA)) {
		return nil, errors.New("failed to parse AWS Nitro root CA")
	}
	return pool, nil
})

// ValidateCertificateChain checks that the attestation's signing certificate
// chains to the Nitro root through caBundleB64, evaluated at the attestation
// time at rather than at the moment of validation.
func ValidateCertificateChain(certB64 string, caBundleB64 []string, at time.Time) error {
	roots, err := nitroRoots()
	if err != nil {
		return err
	}
	return verifyChain(certB64, caBundleB64, at, roots)
}

func verifyChain(certB64 string, caBundleB64 []string, at time.Time, roots *x509.CertPool) error {
	if at.IsZero() {
		return errors.New("attestation has no timestamp")
	}
	leaf, err := parseCertificateB64(certB64)
	if err != nil {
		return fmt.Errorf("signing certificate: %w", err)
	}

	intermediates := x509.NewCertPool()
	for i, caB64 := range caBundleB64 {
		ca, err := parseCertificateB64(caB64)
		if err != nil {
			return fmt.Errorf("CA bundle entry %d: %w", i, err)
		}
		intermediates.AddCert(ca)
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("certificate chain validation failed: %w", err)
	}
	return nil
}

func parseCertificateB64(b64 string) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return cert, nil
}
