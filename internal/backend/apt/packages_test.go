package apt

import (
	"testing"
)

const sampleIndex = `Package: curl
Version: 7.88.1-10
Architecture: amd64
Maintainer: Debian Curl Maintainers <pkg-curl@example.org>
Description: command line tool for transferring data
 multi-line continuation that the mirror ignores
Filename: pool/main/c/curl/curl_7.88.1-10_amd64.deb
Size: 325148
MD5sum: 0123456789abcdef0123456789abcdef
SHA256: 9f2fc11fbcb0fa3ba7b3c1c4f374b9f1a0b212fe4a46bcf5ae00ffcb9b8b1e10

Package: zlib1g
Version: 1.2.13
Architecture: amd64
Filename: pool/main/z/zlib/zlib1g_1.2.13_amd64.deb
Size: 92952
SHA1: 89abcdef0123456789abcdef01234567890abcde
`

func TestParsePackagesIndex(t *testing.T) {
	pkgs, err := ParsePackagesIndex([]byte(sampleIndex))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("parsed %d packages, want 2", len(pkgs))
	}

	curl := pkgs[0]
	if curl.Name != "curl" {
		t.Errorf("name = %q", curl.Name)
	}
	if curl.Location != "pool/main/c/curl/curl_7.88.1-10_amd64.deb" {
		t.Errorf("location = %q", curl.Location)
	}
	if curl.Size != 325148 {
		t.Errorf("size = %d", curl.Size)
	}
	if curl.Checksum.Type != "sha256" {
		t.Errorf("checksum should prefer sha256: %+v", curl.Checksum)
	}

	zlib := pkgs[1]
	if zlib.Checksum.Type != "sha1" {
		t.Errorf("checksum should fall back to sha1: %+v", zlib.Checksum)
	}
}

func TestParsePackagesIndexSkipsIncompleteStanzas(t *testing.T) {
	pkgs, err := ParsePackagesIndex([]byte("Package: orphan\nVersion: 1\n\nFilename: pool/x.deb\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 0 {
		t.Errorf("incomplete stanzas should be dropped, got %v", pkgs)
	}
}

func TestParsePackagesIndexEmpty(t *testing.T) {
	pkgs, err := ParsePackagesIndex(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 0 {
		t.Errorf("empty index = %v", pkgs)
	}
}
