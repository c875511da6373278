package tagger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ralt/repomirror/internal/models"
)

// Output formats shared by diff and list rendering
const (
	FormatDefault = "default"
	FormatCSV     = "csv"
	FormatJSON    = "json"
)

// RenderDiff writes a diff result as two columns of file names, one
// per tag, in the requested format.
func RenderDiff(w io.Writer, res models.DiffResult, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string][]string{
			res.SrcTag:  emptyNotNil(res.SrcOnly),
			res.DestTag: emptyNotNil(res.DestOnly),
		})
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{res.SrcTag, res.DestTag}); err != nil {
			return err
		}
		for i := 0; i < max(len(res.SrcOnly), len(res.DestOnly)); i++ {
			cw.Write([]string{column(res.SrcOnly, i), column(res.DestOnly, i)})
		}
		cw.Flush()
		return cw.Error()
	case FormatDefault, "":
		fmt.Fprintf(w, "%s|%s\n", res.SrcTag, res.DestTag)
		for i := 0; i < max(len(res.SrcOnly), len(res.DestOnly)); i++ {
			fmt.Fprintf(w, "%s|%s\n", column(res.SrcOnly, i), column(res.DestOnly, i))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func column(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func emptyNotNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
