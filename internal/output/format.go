package output

import "fmt"

// Format is the record serialisation used by a sink.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// ParseFormat parses the CLI/config format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	default:
		return 0, fmt.Errorf("output: unknown format %q", s)
	}
}
