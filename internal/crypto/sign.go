// Signature primitives backed by SLH-DSA (SPHINCS+, NIST FIPS 205), the
// stateless hash-based post-quantum scheme spec.md §4.1 requires for
// participant identity. The teacher (vms/quantumvm/quantum/signer.go)
// wraps circl's ML-DSA (Dilithium) for its lattice-based signer; this
// package wraps circl's sibling SLH-DSA package instead, since the spec
// explicitly names the SPHINCS+ family rather than a lattice scheme.
package crypto

import (
	"crypto/rand"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/slhdsa"
)

// DefaultParamID is the "128-bit fast parameters" default of spec.md
// §4.1: small signatures traded for faster signing, at NIST level 1.
const DefaultParamID = slhdsa.SHAKE_128f

var defaultScheme = DefaultParamID.Scheme()

// PrivateKey is a signing keypair. It is immutable once generated or
// loaded, matching §4.1's "all public-key material treated as
// immutable once registered".
type PrivateKey struct {
	scheme sign.Scheme
	pub    sign.PublicKey
	priv   sign.PrivateKey
}

// PublicKey is the verification half of a PrivateKey, and the value
// registered as a participant's on-chain identity (spec.md §3).
type PublicKey struct {
	scheme sign.Scheme
	pub    sign.PublicKey
}

// GenerateKey creates a fresh SLH-DSA keypair under the default
// parameter set.
func GenerateKey() (*PrivateKey, error) {
	pub, priv, err := defaultScheme.GenerateKey()
	if err != nil {
		return nil, newErr("GenerateKey", KindInsufficientRandomness, err)
	}
	return &PrivateKey{scheme: defaultScheme, pub: pub, priv: priv}, nil
}

// Public returns the verification key corresponding to sk.
func (sk *PrivateKey) Public() *PublicKey {
	return &PublicKey{scheme: sk.scheme, pub: sk.pub}
}

// Bytes serializes the public key for registration or wire transfer.
func (pk *PublicKey) Bytes() ([]byte, error) {
	b, err := pk.pub.MarshalBinary()
	if err != nil {
		return nil, newErr("PublicKey.Bytes", KindInvalidFormat, err)
	}
	return b, nil
}

// PublicKeyFromBytes reconstructs a public key previously serialized by
// Bytes, always under DefaultParamID: the node only ever registers
// keys under one parameter set, so there is nothing to disambiguate.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	pub, err := defaultScheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return nil, newErr("PublicKeyFromBytes", KindInvalidFormat, err)
	}
	return &PublicKey{scheme: defaultScheme, pub: pub}, nil
}

// Bytes serializes the private key so a node's identity can survive a
// restart (tempusd persists this under its data directory).
func (sk *PrivateKey) Bytes() ([]byte, error) {
	b, err := sk.priv.MarshalBinary()
	if err != nil {
		return nil, newErr("PrivateKey.Bytes", KindInvalidFormat, err)
	}
	return b, nil
}

// PrivateKeyFromBytes reconstructs a private key previously serialized
// by Bytes, always under DefaultParamID.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	priv, err := defaultScheme.UnmarshalBinaryPrivateKey(b)
	if err != nil {
		return nil, newErr("PrivateKeyFromBytes", KindInvalidFormat, err)
	}
	return &PrivateKey{scheme: defaultScheme, pub: priv.Public().(sign.PublicKey), priv: priv}, nil
}

// Sign produces a signature over msg under sk. SLH-DSA signing is
// randomized by default; the randomness is drawn from crypto/rand.
func (sk *PrivateKey) Sign(msg []byte) ([]byte, error) {
	return sk.scheme.Sign(sk.priv, msg, &sign.SignatureOpts{Context: ""}), nil
}

// Verify reports whether sig is a valid signature over msg under pk.
func Verify(pk *PublicKey, msg, sig []byte) bool {
	return pk.scheme.Verify(pk.pub, msg, sig, nil)
}

// VerifyErr is Verify but returns the structured CryptoError spec.md §7
// requires instead of a boolean, for callers that need to propagate a
// Kind (e.g. the peer scorecard in internal/peerlink).
func VerifyErr(pk *PublicKey, msg, sig []byte) error {
	if !Verify(pk, msg, sig) {
		return newErr("Verify", KindVerificationFailed, ErrVerificationFailed)
	}
	return nil
}

// rngFill is a small helper kept for callers (commitments, VRF
// fallbacks) that need raw cryptographic randomness without pulling in
// crypto/rand at every call site.
func rngFill(b []byte) error {
	_, err := rand.Read(b)
	return err
}
