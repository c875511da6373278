package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestScanFindsPackagesByMagic(t *testing.T) {
	dir := t.TempDir()

	rpm := append([]byte{0xED, 0xAB, 0xEE, 0xDB}, []byte("rest of rpm")...)
	if err := os.WriteFile(filepath.Join(dir, "a.rpm"), rpm, 0644); err != nil {
		t.Fatal(err)
	}
	deb := append([]byte("!<arch>\ndebian"), []byte("-binary")...)
	if err := os.WriteFile(filepath.Join(dir, "b.deb"), deb, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}

	pkgs, err := Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("found %d packages, want 2", len(pkgs))
	}
	if pkgs[0].Type != TypeRpm || pkgs[1].Type != TypeDeb {
		t.Errorf("types = %v %v", pkgs[0].Type, pkgs[1].Type)
	}
}

func TestDetectFallsBackToExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake.rpm")
	if err := os.WriteFile(path, []byte("not a real rpm"), 0644); err != nil {
		t.Fatal(err)
	}

	pt, err := DetectPackageType(path)
	if err != nil {
		t.Fatal(err)
	}
	if pt != TypeRpm {
		t.Errorf("DetectPackageType = %v", pt)
	}
}

func TestRelativeFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "Packages"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"Packages/a.rpm", "repomd.xml"} {
		if err := os.WriteFile(filepath.Join(dir, filepath.FromSlash(f)), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := RelativeFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "Packages/a.rpm" || files[1] != "repomd.xml" {
		t.Errorf("RelativeFiles = %v", files)
	}
}
