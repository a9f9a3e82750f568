package index

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// SchemaVersion is the content hash guarding on-disk record layout.
type SchemaVersion = chainhash.Hash

// HashSchema hashes a schema description.
func HashSchema(desc string) SchemaVersion {
	return chainhash.HashH([]byte(desc))
}

// DescribeType renders the field layout of T, recursing into nested
// structs, so that adding, removing, renaming or retyping a field changes
// the schema version.
func DescribeType[T any]() string {
	var sb strings.Builder
	describe(&sb, reflect.TypeFor[T](), map[reflect.Type]bool{})
	return sb.String()
}

func describe(sb *strings.Builder, t reflect.Type, seen map[reflect.Type]bool) {
	switch t.Kind() {
	case reflect.Pointer:
		sb.WriteString("*")
		describe(sb, t.Elem(), seen)
	case reflect.Slice:
		sb.WriteString("[]")
		describe(sb, t.Elem(), seen)
	case reflect.Array:
		fmt.Fprintf(sb, "[%d]", t.Len())
		describe(sb, t.Elem(), seen)
	case reflect.Map:
		sb.WriteString("map[")
		describe(sb, t.Key(), seen)
		sb.WriteString("]")
		describe(sb, t.Elem(), seen)
	case reflect.Struct:
		name := t.PkgPath() + "." + t.Name()
		if seen[t] {
			sb.WriteString(name)
			return
		}
		seen[t] = true
		sb.WriteString(name)
		sb.WriteString("{")
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if i > 0 {
				sb.WriteString(";")
			}
			sb.WriteString(f.Name)
			sb.WriteString(" ")
			describe(sb, f.Type, seen)
		}
		sb.WriteString("}")
	default:
		sb.WriteString(t.String())
	}
}
