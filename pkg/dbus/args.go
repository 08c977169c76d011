package dbus

import (
	"fmt"
	"strconv"
	"strings"

	godbus "github.com/godbus/dbus/v5"
)

// ParseArg converts a command line argument into a D-Bus value. Arguments
// may carry a type prefix made of a D-Bus signature code and a colon, like
// "u:42" or "o:/org/example". Anything else is sent as a string.
func ParseArg(s string) (interface{}, error) {
	code, value, ok := strings.Cut(s, ":")
	if !ok || len(code) != 1 {
		return s, nil
	}

	switch code {
	case "s":
		return value, nil
	case "b":
		return strconv.ParseBool(value)
	case "y":
		v, err := strconv.ParseUint(value, 0, 8)
		return byte(v), err
	case "n":
		v, err := strconv.ParseInt(value, 0, 16)
		return int16(v), err
	case "q":
		v, err := strconv.ParseUint(value, 0, 16)
		return uint16(v), err
	case "i":
		v, err := strconv.ParseInt(value, 0, 32)
		return int32(v), err
	case "u":
		v, err := strconv.ParseUint(value, 0, 32)
		return uint32(v), err
	case "x":
		return strconv.ParseInt(value, 0, 64)
	case "t":
		return strconv.ParseUint(value, 0, 64)
	case "d":
		return strconv.ParseFloat(value, 64)
	case "o":
		p := godbus.ObjectPath(value)
		if !p.IsValid() {
			return nil, fmt.Errorf("invalid object path %q", value)
		}
		return p, nil
	case "g":
		return godbus.ParseSignature(value)
	default:
		return s, nil
	}
}

// ParseArgs converts every argument with ParseArg.
func ParseArgs(args []string) ([]interface{}, error) {
	out := make([]interface{}, 0, len(args))
	for i, a := range args {
		v, err := ParseArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i+1, a, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// FormatValue renders a reply value in D-Bus text notation.
func FormatValue(v interface{}) string {
	return godbus.MakeVariant(v).String()
}
