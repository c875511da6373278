package yum

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ralt/repomirror/internal/models"
	"github.com/ralt/repomirror/internal/utils"
)

// XML namespaces used by Yum repository metadata
const (
	RepoNamespace   = "http://linux.duke.edu/metadata/repo"
	CommonNamespace = "http://linux.duke.edu/metadata/common"
	RpmNamespace    = "http://linux.duke.edu/metadata/rpm"
)

// RepoMD is repodata/repomd.xml, the root of trust enumerating child
// metadata files.
type RepoMD struct {
	XMLName  xml.Name   `xml:"repomd"`
	Xmlns    string     `xml:"xmlns,attr"`
	Revision string     `xml:"revision"`
	Data     []RepoData `xml:"data"`
}

// RepoData is one child metadata descriptor inside repomd.xml
type RepoData struct {
	Type         string    `xml:"type,attr"`
	Checksum     Checksum  `xml:"checksum"`
	OpenChecksum *Checksum `xml:"open-checksum,omitempty"`
	Location     Location  `xml:"location"`
	Timestamp    int64     `xml:"timestamp,omitempty"`
	Size         int64     `xml:"size,omitempty"`
	OpenSize     int64     `xml:"open-size,omitempty"`
}

type Checksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type Location struct {
	Href string `xml:"href,attr"`
}

// ParseRepoMD unmarshals repomd XML from raw bytes
func ParseRepoMD(data []byte) (RepoMD, error) {
	var md RepoMD
	if err := xml.Unmarshal(data, &md); err != nil {
		return RepoMD{}, err
	}
	return md, nil
}

// MarshalRepoMD renders repomd.xml with the XML declaration header
func MarshalRepoMD(md RepoMD) ([]byte, error) {
	if md.Xmlns == "" {
		md.Xmlns = RepoNamespace
	}
	out, err := xml.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// ValidateCheck returns the predicate for a child metadata file: the
// size record when checksums are off and a size is known, else the
// checksum record, falling back to the size record when the descriptor
// has no checksum value. A descriptor carrying neither is a hard error.
func (d *RepoData) ValidateCheck(checksums bool) (models.Check, error) {
	if !checksums && d.Size > 0 {
		return models.Check{Type: utils.CheckSize, Value: strconv.FormatInt(d.Size, 10)}, nil
	}
	if d.Checksum.Value != "" {
		return models.Check{Type: normalizeAlg(d.Checksum.Type), Value: d.Checksum.Value}, nil
	}
	if d.Size > 0 {
		return models.Check{Type: utils.CheckSize, Value: strconv.FormatInt(d.Size, 10)}, nil
	}
	return models.Check{}, fmt.Errorf("metadata %s carries neither size nor checksum", d.Type)
}

// primary.xml mapping, trimmed to the fields the mirror needs plus
// what the native metadata builder emits.

type primaryXML struct {
	XMLName  xml.Name         `xml:"metadata"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsRpm string           `xml:"xmlns:rpm,attr"`
	Count    int              `xml:"packages,attr"`
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	Type        string         `xml:"type,attr"`
	Name        string         `xml:"name"`
	Arch        string         `xml:"arch"`
	Version     rpmVersion     `xml:"version"`
	Checksum    rpmPkgChecksum `xml:"checksum"`
	Summary     string         `xml:"summary"`
	Description string         `xml:"description"`
	Time        primaryTime    `xml:"time"`
	Size        primarySize    `xml:"size"`
	Location    Location       `xml:"location"`
}

type rpmVersion struct {
	Epoch string `xml:"epoch,attr,omitempty"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

type rpmPkgChecksum struct {
	Type  string `xml:"type,attr"`
	PkgID string `xml:"pkgid,attr"`
	Value string `xml:",chardata"`
}

type primaryTime struct {
	File  int64 `xml:"file,attr,omitempty"`
	Build int64 `xml:"build,attr,omitempty"`
}

type primarySize struct {
	Package   uint64 `xml:"package,attr"`
	Installed uint64 `xml:"installed,attr,omitempty"`
	Archive   uint64 `xml:"archive,attr,omitempty"`
}

// ParsePrimary parses uncompressed primary XML into package records
// sorted by name.
func ParsePrimary(data []byte) ([]models.Package, error) {
	var doc primaryXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse primary: %w", err)
	}
	pkgs := make([]models.Package, 0, len(doc.Packages))
	for _, p := range doc.Packages {
		pkgs = append(pkgs, models.Package{
			Name:     p.Name,
			Location: p.Location.Href,
			Size:     int64(p.Size.Package),
			Checksum: models.Check{
				Type:  normalizeAlg(p.Checksum.Type),
				Value: p.Checksum.Value,
			},
		})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

func marshalPrimary(pkgs []primaryPackage) ([]byte, error) {
	doc := primaryXML{
		Xmlns:    CommonNamespace,
		XmlnsRpm: RpmNamespace,
		Count:    len(pkgs),
		Packages: pkgs,
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// Older repositories label sha1 digests as plain "sha".
func normalizeAlg(alg string) string {
	alg = strings.ToLower(alg)
	if alg == "sha" {
		return "sha1"
	}
	return alg
}
