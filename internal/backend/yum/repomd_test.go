package yum

import (
	"testing"

	"github.com/ralt/repomirror/internal/utils"
)

const sampleRepomd = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1724090000</revision>
  <data type="primary">
    <checksum type="sha256">aabbcc</checksum>
    <open-checksum type="sha256">ddeeff</open-checksum>
    <location href="repodata/aabbcc-primary.xml.gz"/>
    <timestamp>1724090000</timestamp>
    <size>123</size>
    <open-size>456</open-size>
  </data>
  <data type="filelists">
    <checksum type="sha">112233</checksum>
    <location href="repodata/filelists.xml.gz"/>
  </data>
</repomd>
`

const samplePrimary = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="2">
  <package type="rpm">
    <name>foo</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="1.0" rel="1"/>
    <checksum type="sha256" pkgid="YES">c0ffee</checksum>
    <summary>foo</summary>
    <description>foo package</description>
    <time file="1" build="2"/>
    <size package="100" installed="300" archive="320"/>
    <location href="Packages/foo-1.0.rpm"/>
  </package>
  <package type="rpm">
    <name>bar</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="2.0" rel="1"/>
    <checksum type="sha" pkgid="YES">beef</checksum>
    <summary>bar</summary>
    <description>bar package</description>
    <time file="3" build="4"/>
    <size package="200" installed="500" archive="520"/>
    <location href="Packages/bar-2.0.rpm"/>
  </package>
</metadata>
`

func TestParseRepoMD(t *testing.T) {
	md, err := ParseRepoMD([]byte(sampleRepomd))
	if err != nil {
		t.Fatalf("ParseRepoMD failed: %v", err)
	}
	if len(md.Data) != 2 {
		t.Fatalf("parsed %d data entries, want 2", len(md.Data))
	}

	primary := md.Data[0]
	if primary.Type != "primary" {
		t.Errorf("type = %q", primary.Type)
	}
	if primary.Location.Href != "repodata/aabbcc-primary.xml.gz" {
		t.Errorf("href = %q", primary.Location.Href)
	}
	if primary.Checksum.Type != "sha256" || primary.Checksum.Value != "aabbcc" {
		t.Errorf("checksum = %+v", primary.Checksum)
	}
	if primary.Size != 123 {
		t.Errorf("size = %d", primary.Size)
	}
}

func TestValidateCheckPrefersSize(t *testing.T) {
	md, err := ParseRepoMD([]byte(sampleRepomd))
	if err != nil {
		t.Fatal(err)
	}

	check, err := md.Data[0].ValidateCheck(false)
	if err != nil {
		t.Fatal(err)
	}
	if check.Type != utils.CheckSize || check.Value != "123" {
		t.Errorf("check = %+v, want size 123", check)
	}

	check, err = md.Data[0].ValidateCheck(true)
	if err != nil {
		t.Fatal(err)
	}
	if check.Type != "sha256" || check.Value != "aabbcc" {
		t.Errorf("check = %+v, want sha256", check)
	}
}

func TestValidateCheckFallsBackToChecksum(t *testing.T) {
	// no size on the filelists entry, and "sha" normalizes to sha1
	md, err := ParseRepoMD([]byte(sampleRepomd))
	if err != nil {
		t.Fatal(err)
	}

	check, err := md.Data[1].ValidateCheck(false)
	if err != nil {
		t.Fatal(err)
	}
	if check.Type != "sha1" || check.Value != "112233" {
		t.Errorf("check = %+v", check)
	}
}

func TestValidateCheckRequiresSizeOrChecksum(t *testing.T) {
	d := RepoData{Type: "primary"}
	if _, err := d.ValidateCheck(false); err == nil {
		t.Error("descriptor without size or checksum should be an error")
	}
}

func TestParsePrimarySortsByName(t *testing.T) {
	pkgs, err := ParsePrimary([]byte(samplePrimary))
	if err != nil {
		t.Fatalf("ParsePrimary failed: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("parsed %d packages, want 2", len(pkgs))
	}
	if pkgs[0].Name != "bar" || pkgs[1].Name != "foo" {
		t.Errorf("order = %s, %s", pkgs[0].Name, pkgs[1].Name)
	}
	if pkgs[0].Location != "Packages/bar-2.0.rpm" || pkgs[0].Size != 200 {
		t.Errorf("bar = %+v", pkgs[0])
	}
	if pkgs[0].Checksum.Type != "sha1" {
		t.Errorf("sha not normalized: %+v", pkgs[0].Checksum)
	}
	if pkgs[1].Checksum.Type != "sha256" || pkgs[1].Checksum.Value != "c0ffee" {
		t.Errorf("foo checksum = %+v", pkgs[1].Checksum)
	}
}

func TestMarshalRepoMDRoundTrip(t *testing.T) {
	open := &Checksum{Type: "sha256", Value: "open"}
	in := RepoMD{
		Revision: "42",
		Data: []RepoData{{
			Type:         "primary",
			Checksum:     Checksum{Type: "sha256", Value: "sum"},
			OpenChecksum: open,
			Location:     Location{Href: "repodata/sum-primary.xml.gz"},
			Timestamp:    42,
			Size:         10,
			OpenSize:     20,
		}},
	}
	out, err := MarshalRepoMD(in)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ParseRepoMD(out)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if got.Revision != "42" || len(got.Data) != 1 {
		t.Fatalf("round trip = %+v", got)
	}
	if got.Data[0].Location.Href != in.Data[0].Location.Href {
		t.Errorf("href = %q", got.Data[0].Location.Href)
	}
}
