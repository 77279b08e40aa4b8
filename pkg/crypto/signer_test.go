package crypto

import (
	"bytes"
	"testing"
)

func TestSignRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	digest := RequestDigest("deposit_ether", signer.Address().Hex(), "1000000000000000000")
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
	if !VerifySignature(signer.Address(), digest, sig) {
		t.Error("verify failed for own signature")
	}

	other, _ := GenerateKey()
	if VerifySignature(other.Address(), digest, sig) {
		t.Error("verify accepted the wrong address")
	}
}

func TestSignRejectsBadHashLength(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
	if _, err := RecoverAddress(make([]byte, 32), make([]byte, 64)); err == nil {
		t.Error("expected error for 64-byte signature")
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	// well-known hardhat dev key #0
	key := "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	signer, err := FromPrivateKeyHex(key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	if signer.Address().Hex() != want {
		t.Errorf("address = %s, want %s", signer.Address().Hex(), want)
	}

	// same key without the prefix parses to the same address
	bare, err := FromPrivateKeyHex(key[2:])
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if bare.Address() != signer.Address() {
		t.Error("prefix handling changed the derived address")
	}
}

func TestRequestDigestCanonical(t *testing.T) {
	a := RequestDigest("make_order", "0xAA", "100", "0xBB", "200")
	b := RequestDigest("make_order", "0xaa", "100", "0xbb", "200")
	if !bytes.Equal(a, b) {
		t.Error("digest must be case-insensitive over fields")
	}
	if len(a) != 32 {
		t.Errorf("digest length = %d, want 32", len(a))
	}

	c := RequestDigest("make_order", "0xAA", "100", "0xBB", "201")
	if bytes.Equal(a, c) {
		t.Error("different fields must give different digests")
	}
	d := RequestDigest("cancel_order", "0xAA", "100", "0xBB", "200")
	if bytes.Equal(a, d) {
		t.Error("different ops must give different digests")
	}
}
