package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"
)

// CheckSize is the check type comparing file sizes instead of digests.
const CheckSize = "size"

func newHash(algorithm string) hash.Hash {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New()
	case "sha", "sha1":
		return sha1.New()
	case "sha224":
		return sha256.New224()
	case "sha256":
		return sha256.New()
	case "sha384":
		return sha512.New384()
	case "sha512":
		return sha512.New()
	default:
		return nil
	}
}

// FileDigest streams a file through the named hash and returns the hex
// digest.
func FileDigest(path, algorithm string) (string, error) {
	h := newHash(algorithm)
	if h == nil {
		return "", os.ErrInvalid
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateFile checks a local file against a size or digest record.
// A missing file, wrong size, wrong digest or unknown algorithm all
// report false. Size checks are preferred by callers when available
// since digests are far slower on large packages.
func ValidateFile(path, check, value string) bool {
	if check == CheckSize {
		want, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		st, err := os.Stat(path)
		return err == nil && st.Mode().IsRegular() && st.Size() == want
	}
	sum, err := FileDigest(path, check)
	return err == nil && strings.EqualFold(sum, value)
}

// FileChecksums returns the size and sha256 digest of a file in a
// single pass.
func FileChecksums(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, "", err
	}
	return info.Size(), hex.EncodeToString(h.Sum(nil)), nil
}

// DigestBytes hashes a byte slice with the named algorithm
func DigestBytes(data []byte, algorithm string) string {
	h := newHash(algorithm)
	if h == nil {
		return ""
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
