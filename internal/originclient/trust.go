package originclient

import "crypto/tls"

// TrustPolicy configures how the origin client validates upstream TLS
// certificates (§9 "TLS trust policy"). The spec's source accepted all
// certificates and all hostnames unconditionally; that is preserved here
// only as an explicit opt-in (TrustAllInsecure), never the default.
type TrustPolicy interface {
	// Apply sets the verification fields (VerifyPeerCertificate /
	// InsecureSkipVerify) on the per-attempt TLS config in place.
	Apply(cfg *tls.Config)
}

type platformTrust struct{}

// PlatformTrust uses the OS/Go default certificate verification: the
// production default.
func PlatformTrust() TrustPolicy { return platformTrust{} }

func (platformTrust) Apply(cfg *tls.Config) {
	// No overrides: leave Go's default verification in place.
}

type trustAllInsecure struct{}

// TrustAllInsecure reproduces the spec's historical behaviour: accept any
// certificate for any hostname. Intended for local testing against origins
// with self-signed or mismatched certificates only; never the default.
func TrustAllInsecure() TrustPolicy { return trustAllInsecure{} }

func (trustAllInsecure) Apply(cfg *tls.Config) {
	cfg.InsecureSkipVerify = true
	cfg.VerifyPeerCertificate = func(_ [][]byte, _ [][]*tls.Certificate) error {
		return nil
	}
}
