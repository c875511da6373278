package scanner

import (
	"bytes"
	"os"
	"strings"
)

// Magic bytes for package detection
var (
	// Debian packages start with "!<arch>\ndebian"
	debMagic = []byte("!<arch>\ndebian")

	// RPM packages start with 0xED 0xAB 0xEE 0xDB
	rpmMagic = []byte{0xED, 0xAB, 0xEE, 0xDB}
)

// DetectPackageType determines the package type based on magic bytes
// and file extension
func DetectPackageType(path string) (PackageType, error) {
	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".rpm") && !strings.HasSuffix(lower, ".deb") {
		return TypeUnknown, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return TypeUnknown, err
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, rpmMagic):
		return TypeRpm, nil
	case bytes.HasPrefix(header, debMagic):
		return TypeDeb, nil
	}

	// Extension fallback for files written by tests or hand-rolled
	// repos without real package payloads.
	switch {
	case strings.HasSuffix(lower, ".rpm"):
		return TypeRpm, nil
	case strings.HasSuffix(lower, ".deb"):
		return TypeDeb, nil
	}
	return TypeUnknown, nil
}
