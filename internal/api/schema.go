package api

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Validator checks a JSON response body before it is handed back to
// the caller. A non-nil error fails the request with a validation error.
type Validator interface {
	Validate(body []byte) error
}

// ValidatorFunc adapts a predicate to Validator.
type ValidatorFunc func(body []byte) bool

func (f ValidatorFunc) Validate(body []byte) error {
	if !f(body) {
		return fmt.Errorf("predicate rejected response")
	}

	return nil
}

// FieldKind is the JSON kind a schema field must have.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldBool
	FieldObject
	FieldArray
)

func (k FieldKind) String() string {
	switch k {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldBool:
		return "bool"
	case FieldObject:
		return "object"
	case FieldArray:
		return "array"
	}

	return "unknown"
}

// Field describes one value in a response body. Path uses gjson syntax;
// "@this" addresses the whole document.
type Field struct {
	Path     string
	Kind     FieldKind
	Optional bool
	// NonEmpty rejects empty strings.
	NonEmpty bool
	// Equals, when set, is the exact string value required.
	Equals string
}

// Schema is the expected shape of a response body.
type Schema []Field

// Validate reports the first field that does not match.
func (s Schema) Validate(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("body is not valid JSON")
	}

	for _, f := range s {
		r := gjson.GetBytes(body, f.Path)
		if !r.Exists() || r.Type == gjson.Null {
			if f.Optional {
				continue
			}

			return fmt.Errorf("%s: missing", f.Path)
		}

		if !kindMatches(r, f.Kind) {
			return fmt.Errorf("%s: want %s", f.Path, f.Kind)
		}

		if f.NonEmpty && f.Kind == FieldString && r.Str == "" {
			return fmt.Errorf("%s: empty", f.Path)
		}

		if f.Equals != "" && r.String() != f.Equals {
			return fmt.Errorf("%s: want %q, got %q", f.Path, f.Equals, r.String())
		}
	}

	return nil
}

// Each returns a Validator that requires the document to be an array
// whose every element matches s.
func (s Schema) Each() Validator {
	return eachValidator{elem: s}
}

type eachValidator struct {
	elem Schema
}

func (v eachValidator) Validate(body []byte) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("body is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return fmt.Errorf("want array")
	}

	var err error

	i := 0
	root.ForEach(func(_, value gjson.Result) bool {
		if e := v.elem.Validate([]byte(value.Raw)); e != nil {
			err = fmt.Errorf("[%d] %w", i, e)
			return false
		}

		i++

		return true
	})

	return err
}

func kindMatches(r gjson.Result, k FieldKind) bool {
	switch k {
	case FieldString:
		return r.Type == gjson.String
	case FieldNumber:
		return r.Type == gjson.Number
	case FieldBool:
		return r.IsBool()
	case FieldObject:
		return r.IsObject()
	case FieldArray:
		return r.IsArray()
	}

	return false
}

// tokenPairSchema is the shape of a successful token endpoint response.
var tokenPairSchema = Schema{
	{Path: "access_token", Kind: FieldString, NonEmpty: true},
	{Path: "refresh_token", Kind: FieldString, NonEmpty: true},
	{Path: "token_type", Kind: FieldString, Equals: TokenTypeBearer},
}

// detailMessage extracts the server's {"detail": "..."} message.
func detailMessage(body []byte) string {
	r := gjson.GetBytes(body, "detail")
	if r.Type != gjson.String {
		return ""
	}

	return r.Str
}
