package checksum

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestStreamingMatchesOneShot(t *testing.T) {
	payload := make([]byte, 8088)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	// Any split of the payload must produce the one-shot digest.
	splits := [][]int{
		{8088},
		{1, 8087},
		{249, 6, 249, 249, 7335},
		{4044, 4044},
	}

	want := sha256.Sum256(payload)

	for _, sizes := range splits {
		a := New()
		rest := payload
		for _, n := range sizes {
			if err := a.Update(rest[:n]); err != nil {
				t.Fatalf("Update: %v", err)
			}
			rest = rest[n:]
		}
		if len(rest) != 0 {
			t.Fatalf("split %v does not cover payload", sizes)
		}

		got, err := a.Finalize()
		if err != nil {
			t.Fatalf("Finalize: %v", err)
		}
		if got != want {
			t.Errorf("split %v: digest mismatch", sizes)
		}
	}
}

func TestFinalizeTwice(t *testing.T) {
	a := New()
	a.Update([]byte("payload"))

	if _, err := a.Finalize(); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if _, err := a.Finalize(); err != ErrAlreadyFinalized {
		t.Errorf("second Finalize error = %v, want %v", err, ErrAlreadyFinalized)
	}
	if err := a.Update([]byte("more")); err != ErrAlreadyFinalized {
		t.Errorf("Update after Finalize error = %v, want %v", err, ErrAlreadyFinalized)
	}
}

func TestAlgorithms(t *testing.T) {
	payload := []byte("firmware image bytes")

	tests := []struct {
		name string
		alg  Algorithm
	}{
		{name: "SHA-256", alg: AlgorithmSHA256},
		{name: "BLAKE2s-256", alg: AlgorithmBLAKE2s256},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := NewWithAlgorithm(tc.alg)
			if err != nil {
				t.Fatalf("NewWithAlgorithm: %v", err)
			}
			a.Update(payload)
			streamed, err := a.Finalize()
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}

			oneShot, err := Sum256(tc.alg, payload)
			if err != nil {
				t.Fatalf("Sum256: %v", err)
			}
			if streamed != oneShot {
				t.Errorf("streamed digest differs from one-shot digest")
			}
		})
	}

	// The two algorithms must not collide on the same input.
	s, _ := Sum256(AlgorithmSHA256, payload)
	b, _ := Sum256(AlgorithmBLAKE2s256, payload)
	if bytes.Equal(s[:], b[:]) {
		t.Errorf("SHA-256 and BLAKE2s digests unexpectedly equal")
	}

	if _, err := NewWithAlgorithm(Algorithm(99)); err != ErrUnknownAlgorithm {
		t.Errorf("unknown algorithm error = %v, want %v", err, ErrUnknownAlgorithm)
	}
}
