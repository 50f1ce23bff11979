package metadataio

import "github.com/cilplug/patcher/metadata"

// decodeCustomAttributeValue decodes a CustomAttribute's Value blob per
// ECMA-335 §II.23.3: a fixed prolog, one fixed argument per
// constructor parameter, then a count-prefixed list of named
// field/property arguments. This is the shape the plug attributes the
// orchestrator reads (Cosmos.Plug, Cosmos.PlugMember,
// Cosmos.PlatformSpecific) all use: a handful of string/enum/bool
// arguments, never arrays of arrays or boxed generics.
func decodeCustomAttributeValue(ctorParams []metadata.TypeRef, blob []byte) ([]metadata.AttributeArg, []metadata.NamedAttributeArg, error) {
	s := &sigReader{buf: blob}
	if len(blob) < 2 {
		return nil, nil, nil
	}
	s.byte()
	s.byte() // prolog 0x0001

	args := make([]metadata.AttributeArg, 0, len(ctorParams))
	for _, pt := range ctorParams {
		v := decodeFixedArg(s, pt)
		args = append(args, metadata.AttributeArg{Type: pt, Value: v})
	}

	if s.done() {
		return args, nil, nil
	}
	numNamed := uint16(s.byte()) | uint16(s.byte())<<8
	named := make([]metadata.NamedAttributeArg, 0, numNamed)
	for i := uint16(0); i < numNamed; i++ {
		if s.done() {
			break
		}
		kindByte := s.byte() // 0x53 FIELD, 0x54 PROPERTY
		isField := kindByte == 0x53
		elemTag := s.byte()
		var enumName string
		if elemTag == 0x55 { // ENUM, prefixed by its type's serialized name
			enumName = serString(s)
		}
		name := serString(s)
		val := decodeNamedValue(s, elemTag)
		named = append(named, metadata.NamedAttributeArg{
			Name:    name,
			IsField: isField,
			Type:    namedArgType(elemTag, enumName),
			Value:   val,
		})
	}
	return args, named, nil
}

// serString decodes a compressed-length-prefixed UTF-8 string as used
// for named-argument names and enum type names within an attribute
// value blob (distinct from a #Strings heap index).
func serString(s *sigReader) string {
	if s.done() {
		return ""
	}
	if s.buf[s.pos] == 0xFF {
		s.pos++
		return ""
	}
	n := s.compressedUint()
	start := s.pos
	end := start + int(n)
	if end > len(s.buf) {
		end = len(s.buf)
	}
	s.pos = end
	return string(s.buf[start:end])
}

func decodeFixedArg(s *sigReader, t metadata.TypeRef) any {
	if t.Kind == metadata.TypeRefDef || t.Kind == metadata.TypeRefExternal {
		name := t.FullName()
		if name != "" && name != "System.String" && name != "System.Boolean" &&
			name != "System.Char" && name != "System.Byte" && name != "System.SByte" &&
			name != "System.Int16" && name != "System.UInt16" && name != "System.Int32" &&
			name != "System.UInt32" && name != "System.Int64" && name != "System.UInt64" &&
			name != "System.Single" && name != "System.Double" {
			// Most likely an enum; underlying storage is a fixed-width
			// 4-byte signed integer for every enum the plug attributes use.
			return readFixedI4(s)
		}
	}
	switch t.FullName() {
	case "System.String":
		return serString(s)
	case "System.Boolean":
		return s.byte() != 0
	case "System.Char":
		return rune(uint16(s.byte()) | uint16(s.byte())<<8)
	case "System.Byte", "System.SByte":
		return int64(s.byte())
	case "System.Int16", "System.UInt16":
		return int64(uint16(s.byte()) | uint16(s.byte())<<8)
	case "System.Int32", "System.UInt32":
		return readFixedI4(s)
	case "System.Int64", "System.UInt64":
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(s.byte()) << (8 * i)
		}
		return int64(v)
	default:
		return readFixedI4(s)
	}
}

func readFixedI4(s *sigReader) int64 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(s.byte()) << (8 * i)
	}
	return int64(int32(v))
}

func decodeNamedValue(s *sigReader, elemTag byte) any {
	switch elemTag {
	case 0x0E: // STRING
		return serString(s)
	case 0x02: // BOOLEAN
		return s.byte() != 0
	case 0x08, 0x09, 0x55: // I4, U4, or ENUM (underlying i4)
		return readFixedI4(s)
	case 0x0A, 0x0B: // I8, U8
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(s.byte()) << (8 * i)
		}
		return int64(v)
	default:
		return readFixedI4(s)
	}
}

func namedArgType(elemTag byte, enumName string) metadata.TypeRef {
	if elemTag == 0x55 {
		return metadata.TypeRef{Kind: metadata.TypeRefExternal, External: metadata.ExternalRef{FullName: enumName}}
	}
	if name, ok := primitiveNames[elemTag]; ok {
		return primitiveType(name)
	}
	return primitiveType("Int32")
}
