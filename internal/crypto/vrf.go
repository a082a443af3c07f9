package crypto

// VRFOutputLen is the length in bytes of a VRF output (spec.md §4.1).
const VRFOutputLen = 32

// VRFEval evaluates the verifiable random function at input under sk.
//
// Construction (spec.md §4.1): output = SHAKE256(prf_key ‖ input) where
// prf_key is derived from sk, and proof is a signature over
// input ‖ output verifiable under sk's public key. Binding the output
// deterministically to the signing identity, and proving it with an
// ordinary signature over (input, output), is weaker than an
// algebraic VRF (e.g. an elliptic-curve construction) in that the
// output is only unpredictable to those without the private key, not
// to the prover itself in advance of evaluation — acceptable here
// because the leader lottery only needs unpredictability to other
// participants, not to the leader.
func VRFEval(sk *PrivateKey, input []byte) (output [32]byte, proof []byte, err error) {
	skBytes, marshalErr := sk.priv.MarshalBinary()
	if marshalErr != nil {
		return output, nil, newErr("VRFEval", KindInvalidFormat, marshalErr)
	}
	prfKey := Hash(skBytes, []byte("tempus-vrf-prf-key"))

	out := Shake256(VRFOutputLen, prfKey[:], input)
	copy(output[:], out)

	msg := make([]byte, 0, len(input)+len(output))
	msg = append(msg, input...)
	msg = append(msg, output[:]...)

	sig, signErr := sk.Sign(msg)
	if signErr != nil {
		return output, nil, signErr
	}
	return output, sig, nil
}

// VRFVerify checks that (output, proof) is a valid VRF evaluation of
// input under pk.
func VRFVerify(pk *PublicKey, input []byte, output [32]byte, proof []byte) bool {
	msg := make([]byte, 0, len(input)+len(output))
	msg = append(msg, input...)
	msg = append(msg, output[:]...)
	return Verify(pk, msg, proof)
}
