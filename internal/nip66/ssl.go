package nip66

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// SSLResult is the NIP-66 SSL probe's metadata value (spec.md §4.7.1:
// clearnet-only, DER cert parse plus chain validity).
type SSLResult struct {
	Subject     string   `json:"subject,omitempty"`
	Issuer      string   `json:"issuer,omitempty"`
	SANs        []string `json:"sans,omitempty"`
	NotAfter    int64    `json:"not_after,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Cipher      string   `json:"cipher,omitempty"`
	ChainValid  bool     `json:"chain_valid"`
}

// SSLProbe connects twice to host:port (InsecureSkipVerify to read the
// leaf certificate regardless of chain validity, then with default
// verification to determine ChainValid), per spec.md §4.7.1's two-
// connection SSL probe description.
func SSLProbe(ctx context.Context, hostPort string, timeout time.Duration) (SSLResult, Logs) {
	dialer := &net.Dialer{Timeout: timeout}

	insecureConn, err := tls.DialWithDialer(dialer, "tcp", hostPort, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return SSLResult{}, Fail("tls dial (insecure): %v", err)
	}
	defer insecureConn.Close()

	state := insecureConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return SSLResult{}, Fail("no peer certificates presented")
	}
	leaf := state.PeerCertificates[0]
	sum := sha256.Sum256(leaf.Raw)

	result := SSLResult{
		Subject:     leaf.Subject.CommonName,
		Issuer:      leaf.Issuer.CommonName,
		SANs:        leaf.DNSNames,
		NotAfter:    leaf.NotAfter.Unix(),
		Fingerprint: hex.EncodeToString(sum[:]),
		Cipher:      tlsCipherName(state.CipherSuite),
	}

	verifiedConn, err := tls.DialWithDialer(dialer, "tcp", hostPort, &tls.Config{})
	if err == nil {
		result.ChainValid = true
		verifiedConn.Close()
	}

	return result, Ok()
}

func tlsCipherName(id uint16) string {
	for _, suite := range tls.CipherSuites() {
		if suite.ID == id {
			return suite.Name
		}
	}
	for _, suite := range tls.InsecureCipherSuites() {
		if suite.ID == id {
			return suite.Name
		}
	}
	return fmt.Sprintf("0x%04x", id)
}
