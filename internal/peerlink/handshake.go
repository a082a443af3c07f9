package peerlink

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/tempusnet/tempus/internal/crypto"
	"github.com/tempusnet/tempus/internal/ids"
)

// sessionKeys are the two directional XChaCha20-Poly1305 keys derived
// from a handshake: one per direction, so neither side ever reuses a
// nonce space with the other (spec.md §4.8's "symmetric AEAD for the
// data phase").
type sessionKeys struct {
	sendKey [chacha20poly1305.KeySize]byte
	recvKey [chacha20poly1305.KeySize]byte
}

const (
	hkdfInfoInitToResp = "tempus-peerlink-v1-i2r"
	hkdfInfoRespToInit = "tempus-peerlink-v1-r2i"
)

// buildHello generates a fresh ephemeral Curve25519 keypair and signs
// it, together with the node's identity, under its long-term SLH-DSA
// key — the Noise-XX pattern's static-key reveal, substituted with a
// post-quantum signature rather than a second Diffie-Hellman term,
// since spec.md §1 scopes this module to post-quantum signatures
// rather than a post-quantum KEM.
func buildHello(sk *crypto.PrivateKey, nodeID ids.NodeID) (*HelloMessage, [32]byte, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, ephPriv, newErr("buildHello", KindHandshakeFailed, err)
	}
	var ephPub [32]byte
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	pub, err := sk.Public().Bytes()
	if err != nil {
		return nil, ephPriv, newErr("buildHello", KindHandshakeFailed, err)
	}

	h := &HelloMessage{NodeID: nodeID, IdentityPubKey: pub, EphemeralPub: ephPub}
	sig, err := sk.Sign(h.signingMessage())
	if err != nil {
		return nil, ephPriv, newErr("buildHello", KindHandshakeFailed, err)
	}
	h.Signature = sig
	return h, ephPriv, nil
}

// verifyHello checks the peer's Hello signature and its claimed NodeID
// matches the identity key it was signed with.
func verifyHello(h *HelloMessage) error {
	pk, err := crypto.PublicKeyFromBytes(h.IdentityPubKey)
	if err != nil {
		return newErr("verifyHello", KindHandshakeFailed, err)
	}
	if !crypto.Verify(pk, h.signingMessage(), h.Signature) {
		return newErr("verifyHello", KindHandshakeFailed, ErrHandshakeFailed)
	}
	if crypto.NodeIDFromKey(h.IdentityPubKey) != h.NodeID {
		return newErr("verifyHello", KindHandshakeFailed, ErrHandshakeFailed)
	}
	return nil
}

// deriveSessionKeys runs the ECDH exchange between this side's
// ephemeral private key and the peer's ephemeral public key, then
// HKDF-SHA256-expands the shared secret into the two directional AEAD
// keys. initiator picks which HKDF info string maps to which
// direction so both sides agree without negotiation.
func deriveSessionKeys(ephPriv [32]byte, peerEphPub [32]byte, initiator bool) (*sessionKeys, error) {
	shared, err := curve25519.X25519(ephPriv[:], peerEphPub[:])
	if err != nil {
		return nil, newErr("deriveSessionKeys", KindHandshakeFailed, err)
	}

	sendInfo, recvInfo := hkdfInfoInitToResp, hkdfInfoRespToInit
	if !initiator {
		sendInfo, recvInfo = hkdfInfoRespToInit, hkdfInfoInitToResp
	}

	keys := &sessionKeys{}
	if err := fillKey(shared, sendInfo, keys.sendKey[:]); err != nil {
		return nil, err
	}
	if err := fillKey(shared, recvInfo, keys.recvKey[:]); err != nil {
		return nil, err
	}
	return keys, nil
}

func fillKey(shared []byte, info string, out []byte) error {
	kdf := hkdf.New(sha256.New, shared, nil, []byte(info))
	if _, err := kdf.Read(out); err != nil {
		return newErr("fillKey", KindHandshakeFailed, err)
	}
	return nil
}

// sealFrame encrypts a frame body for the send direction: a random
// 24-byte XChaCha20-Poly1305 nonce is prepended to the ciphertext,
// matching vms/zkvm/transaction.go's ChaCha20-Poly1305 framing.
func sealFrame(key [chacha20poly1305.KeySize]byte, tag Tag, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, newErr("sealFrame", KindHandshakeFailed, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, newErr("sealFrame", KindHandshakeFailed, err)
	}
	aad := []byte{byte(tag)}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func openFrame(key [chacha20poly1305.KeySize]byte, tag Tag, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, newErr("openFrame", KindHandshakeFailed, err)
	}
	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, newErr("openFrame", KindBadFrame, ErrBadFrame)
	}
	nonce, encrypted := ciphertext[:nonceSize], ciphertext[nonceSize:]
	aad := []byte{byte(tag)}
	plaintext, err := aead.Open(nil, nonce, encrypted, aad)
	if err != nil {
		return nil, newErr("openFrame", KindBadFrame, err)
	}
	return plaintext, nil
}
