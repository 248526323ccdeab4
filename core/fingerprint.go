package core

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/go-crypt/x/blake2b"
)

// fingerprintSize is the digest length in bytes; the hex form is twice as long.
const fingerprintSize = 32

func newDigest() hash.Hash {
	// New only fails for sizes outside 1..64 or keys longer than 64 bytes.
	h, _ := blake2b.New(fingerprintSize, nil)
	return h
}

// HashBytes returns the fingerprint of data.
func HashBytes(data []byte) Fingerprint {
	h := newDigest()
	h.Write(data)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// HashReader returns the fingerprint of everything read from r.
func HashReader(r io.Reader) (Fingerprint, error) {
	h := newDigest()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// HashFile streams the file at path through the digest and returns its fingerprint.
// The result depends only on the file bytes.
func HashFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}

	fp, err := HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fp, nil
}
