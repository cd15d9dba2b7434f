package rterror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// HandledMessage is reported when an error value cannot be inspected safely.
const HandledMessage = "callback called with Error argument, but there was a problem while retrieving one or more of its message, name, and stack"

// Response is the error envelope sent to the control plane.
type Response struct {
	ErrorType    string
	ErrorMessage string
	Trace        []string
	Extra        map[string]any
}

var coreKeys = map[string]bool{"errorType": true, "errorMessage": true, "trace": true}

// MarshalJSON writes errorType, errorMessage and trace first, then the extra
// fields in key order. Extra fields that cannot be encoded are skipped.
func (r Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"errorType":`)
	writeJSON(&buf, r.ErrorType)
	buf.WriteString(`,"errorMessage":`)
	writeJSON(&buf, r.ErrorMessage)
	buf.WriteString(`,"trace":`)
	trace := r.Trace
	if trace == nil {
		trace = []string{}
	}
	writeJSON(&buf, trace)
	for _, k := range sortedKeys(r.Extra) {
		if coreKeys[k] {
			continue
		}
		v, err := json.Marshal(r.Extra[k])
		if err != nil {
			continue
		}
		buf.WriteByte(',')
		writeJSON(&buf, k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the envelope and keeps unknown keys in Extra.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{}
	for k, v := range raw {
		var err error
		switch k {
		case "errorType":
			err = json.Unmarshal(v, &r.ErrorType)
		case "errorMessage":
			err = json.Unmarshal(v, &r.ErrorMessage)
		case "trace":
			err = json.Unmarshal(v, &r.Trace)
		default:
			var x any
			if err = json.Unmarshal(v, &x); err == nil {
				if r.Extra == nil {
					r.Extra = make(map[string]any)
				}
				r.Extra[k] = x
			}
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
	}
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) {
	b, _ := json.Marshal(v)
	buf.Write(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handled returns the envelope used when inspection of an error fails.
func Handled() Response {
	return Response{ErrorType: "handled", ErrorMessage: HandledMessage, Trace: []string{}}
}

// ToResponse converts any value into the envelope. Errors contribute their
// type, message, stack and extra fields; other values are described by their
// kind and string form. Values that panic while being inspected yield Handled.
func ToResponse(v any) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Handled()
		}
	}()

	err, ok := v.(error)
	if !ok {
		return Response{ErrorType: kindOf(v), ErrorMessage: stringOf(v), Trace: []string{}}
	}

	resp = Response{ErrorType: typeName(err), ErrorMessage: err.Error(), Trace: []string{}}
	var rt *Error
	if errors.As(err, &rt) {
		resp.ErrorType = rt.Type
		resp.Trace = rt.Trace()
		if rt != err {
			resp.Trace[0] = resp.ErrorType + ": " + resp.ErrorMessage
		}
	}
	resp.Extra = fieldsOf(err)
	return resp
}

// Formatted renders v for the function log: a leading tab followed by JSON
// with errorType, errorMessage, stack and any extra fields.
func Formatted(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = formattedFallback(v)
		}
	}()
	err, ok := v.(error)
	if !ok {
		b, merr := json.Marshal(v)
		if merr != nil {
			return formattedFallback(v)
		}
		return "\t" + string(b)
	}
	resp := ToResponse(err)
	m := make(map[string]any, len(resp.Extra)+3)
	for k, x := range resp.Extra {
		m[k] = x
	}
	m["errorType"] = resp.ErrorType
	m["errorMessage"] = resp.ErrorMessage
	m["stack"] = resp.Trace
	b, merr := json.Marshal(m)
	if merr != nil {
		return formattedFallback(v)
	}
	return "\t" + string(b)
}

func formattedFallback(v any) string {
	b, _ := json.Marshal(ToResponse(v))
	return "\t" + string(b)
}

type typer interface {
	ErrorType() string
}

type fielder interface {
	Fields() map[string]any
}

func typeName(err error) string {
	var t typer
	if errors.As(err, &t) {
		if name := t.ErrorType(); name != "" {
			return name
		}
	}
	rt := reflect.TypeOf(err)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	name := rt.Name()
	if name == "" || !unicode.IsUpper(rune(name[0])) {
		return "Error"
	}
	return name
}

func fieldsOf(err error) map[string]any {
	var rt *Error
	if errors.As(err, &rt) && len(rt.Fields) > 0 {
		return copyFields(rt.Fields)
	}
	var f fielder
	if errors.As(err, &f) {
		return copyFields(f.Fields())
	}
	return nil
}

func copyFields(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func kindOf(v any) string {
	if v == nil {
		return "null"
	}
	if _, ok := v.(json.Number); ok {
		return "number"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Func:
		return "function"
	default:
		return "object"
	}
}

func stringOf(v any) string {
	if v == nil {
		return "null"
	}
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
