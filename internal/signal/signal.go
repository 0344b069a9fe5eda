// Package signal defines signal metadata and qualified-name handling
// shared by the backplane, router, module and control packages.
package signal

import (
	"fmt"
	"strings"
)

// Kind is the declared type tag of a signal. Storage is always 8 bytes
// regardless of Kind; the tag only affects how CLI/telemetry consumers
// interpret the raw bits.
type Kind uint8

const (
	KindF64 Kind = iota
	KindF32
	KindI64
	KindI32
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindF64:
		return "f64"
	case KindF32:
		return "f32"
	case KindI64:
		return "i64"
	case KindI32:
		return "i32"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// ParseKind parses the type-tag strings accepted in configuration.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "f64", "":
		return KindF64, nil
	case "f32":
		return KindF32, nil
	case "i64":
		return KindI64, nil
	case "i32":
		return KindI32, nil
	case "bool":
		return KindBool, nil
	default:
		return 0, fmt.Errorf("unknown signal type %q", s)
	}
}

// Flags are the per-signal property bits.
type Flags uint8

const (
	FlagNone      Flags = 0
	FlagWritable  Flags = 1 << 0
	FlagPublished Flags = 1 << 1
)

func (f Flags) Writable() bool  { return f&FlagWritable != 0 }
func (f Flags) Published() bool { return f&FlagPublished != 0 }

// Descriptor is the declared metadata for a single signal, keyed by
// local (unqualified) name within its owning module.
type Descriptor struct {
	Module string
	Local  string
	Kind   Kind
	Unit   string
	Flags  Flags
}

// Qualified returns the "<module>.<local>" name that uniquely
// identifies this signal in the backplane directory.
func (d Descriptor) Qualified() string {
	return Qualify(d.Module, d.Local)
}

// Qualify joins a module and local name into a qualified signal name.
// A module name may be empty, in which case the local name alone is
// used verbatim (as for the "_default" schema grouping of §4.G).
func Qualify(module, local string) string {
	if module == "" {
		return local
	}
	return module + "." + local
}

// Split divides a qualified name into its module and local components.
// Names without a "." belong to no module; ok reports whether a "."
// was present.
func Split(qualified string) (module, local string, ok bool) {
	idx := strings.LastIndex(qualified, ".")
	if idx < 0 {
		return "", qualified, false
	}
	return qualified[:idx], qualified[idx+1:], true
}
