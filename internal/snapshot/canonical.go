package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces deterministic JSON for snapshot files: object
// keys sorted, strings NFC-normalized, no HTML escaping, two-space indent.
// Unlike hash-oriented canonical JSON, floats and nulls are permitted here
// because execution payloads contain both.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalValue(&buf, v, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func marshalValue(buf *bytes.Buffer, v any, depth int) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case string:
		return marshalString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case map[string]any:
		return marshalObject(buf, val, depth)
	case []any:
		return marshalArray(buf, val, depth)
	default:
		// Numbers (float64, int, json.Number) and anything else take the
		// standard encoding, which is already deterministic for scalars.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshal %T: %w", v, err)
		}
		buf.Write(data)
		return nil
	}
}

// marshalString normalizes to NFC at the serialization boundary and disables
// HTML escaping so snapshots stay readable.
func marshalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}

	data := tmp.Bytes()
	// json.Encoder appends a trailing newline.
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	buf.Write(data)
	return nil
}

func marshalObject(buf *bytes.Buffer, obj map[string]any, depth int) error {
	if len(obj) == 0 {
		buf.WriteString("{}")
		return nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteString("{\n")
	for i, k := range keys {
		writeIndent(buf, depth+1)
		if err := marshalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteString(": ")
		if err := marshalValue(buf, obj[k], depth+1); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	writeIndent(buf, depth)
	buf.WriteByte('}')
	return nil
}

func marshalArray(buf *bytes.Buffer, arr []any, depth int) error {
	if len(arr) == 0 {
		buf.WriteString("[]")
		return nil
	}

	buf.WriteString("[\n")
	for i, elem := range arr {
		writeIndent(buf, depth+1)
		if err := marshalValue(buf, elem, depth+1); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
		if i < len(arr)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	writeIndent(buf, depth)
	buf.WriteByte(']')
	return nil
}

func writeIndent(buf *bytes.Buffer, depth int) {
	for i := 0; i < depth; i++ {
		buf.WriteString("  ")
	}
}
