package yum

import (
	"fmt"
	"os"

	"github.com/ralt/repomirror/internal/utils"
	"github.com/sassoftware/go-rpmutils"
)

// readRPMHeader extracts the primary metadata fields from an RPM file
func readRPMHeader(path, location string) (primaryPackage, error) {
	size, sum, err := utils.FileChecksums(path)
	if err != nil {
		return primaryPackage{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return primaryPackage{}, err
	}
	defer f.Close()

	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return primaryPackage{}, fmt.Errorf("failed to read RPM: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		return primaryPackage{}, err
	}

	return primaryPackage{
		Type: "rpm",
		Name: getStringTag(rpm, rpmutils.NAME),
		Arch: getStringTag(rpm, rpmutils.ARCH),
		Version: rpmVersion{
			Ver: getStringTag(rpm, rpmutils.VERSION),
			Rel: getStringTag(rpm, rpmutils.RELEASE),
		},
		Checksum: rpmPkgChecksum{
			Type:  "sha256",
			PkgID: "YES",
			Value: sum,
		},
		Summary:     getStringTag(rpm, rpmutils.SUMMARY),
		Description: getStringTag(rpm, rpmutils.DESCRIPTION),
		Time: primaryTime{
			File:  st.ModTime().Unix(),
			Build: getIntTag(rpm, rpmutils.BUILDTIME),
		},
		Size:     primarySize{Package: uint64(size)},
		Location: Location{Href: location},
	}, nil
}

// getStringTag safely gets a string tag from RPM
func getStringTag(rpm *rpmutils.Rpm, tag int) string {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// getIntTag safely gets an integer tag from RPM
func getIntTag(rpm *rpmutils.Rpm, tag int) int64 {
	val, err := rpm.Header.Get(tag)
	if err != nil {
		return 0
	}

	switch v := val.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case []int64:
		if len(v) > 0 {
			return v[0]
		}
	case []int32:
		if len(v) > 0 {
			return int64(v[0])
		}
	case uint32:
		return int64(v)
	}
	return 0
}
