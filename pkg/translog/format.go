package translog

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// Format is the compression applied to a transfer log.
type Format string

const (
	None Format = "none"
	Gzip Format = "gz"
	Zstd Format = "zst"
)

var formatToString = map[Format]string{
	None: "none",
	Gzip: "gz",
	Zstd: "zst",
}

var stringToFormat map[string]Format

func init() {
	stringToFormat = util.InvertMap(formatToString)
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_log_format(%s)", string(f))
}

// Ext is the file name suffix for the format, including the dot.
func (f Format) Ext() string {
	if f == None {
		return ""
	}
	return "." + string(f)
}

func ParseFormat(s string) (Format, error) {
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid transfer log format: %q. Must be 'none', 'gz', or 'zst'", s)
}

// MarshalJSON implements the json.Marshaler interface for Format.
func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Format.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("transfer log format should be a string, got %s", data)
	}
	format, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}
