package apt

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/ralt/repomirror/internal/models"
)

// ParsePackagesIndex parses an uncompressed Debian Packages index into
// package records sorted by name. Stanzas are separated by blank
// lines; continuation lines belong to the previous field and carry
// nothing the mirror needs.
func ParsePackagesIndex(data []byte) ([]models.Package, error) {
	var pkgs []models.Package
	fields := map[string]string{}

	flush := func() {
		if len(fields) == 0 {
			return
		}
		if p, ok := packageFromStanza(fields); ok {
			pkgs = append(pkgs, p)
		}
		fields = map[string]string{}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

func packageFromStanza(fields map[string]string) (models.Package, bool) {
	name := fields["Package"]
	location := fields["Filename"]
	if name == "" || location == "" {
		return models.Package{}, false
	}

	size, _ := strconv.ParseInt(fields["Size"], 10, 64)

	var check models.Check
	switch {
	case fields["SHA256"] != "":
		check = models.Check{Type: "sha256", Value: fields["SHA256"]}
	case fields["SHA1"] != "":
		check = models.Check{Type: "sha1", Value: fields["SHA1"]}
	case fields["MD5sum"] != "":
		check = models.Check{Type: "md5", Value: fields["MD5sum"]}
	}

	return models.Package{
		Name:     name,
		Location: location,
		Size:     size,
		Checksum: check,
	}, true
}
