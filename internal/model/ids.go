package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ID is an opaque identifier issued by the exam service. The service is not
// consistent about quoting them, so both JSON strings and numbers are accepted.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

// Letter is an answer option, "a" through "d".
type Letter string

const (
	LetterA Letter = "a"
	LetterB Letter = "b"
	LetterC Letter = "c"
	LetterD Letter = "d"
)

// ErrInvalidLetter is returned for options outside a..d.
var ErrInvalidLetter = errors.New("option must be one of a, b, c, d")

// ParseLetter normalises user input ("B", " c ") to a Letter.
func ParseLetter(raw string) (Letter, error) {
	l := Letter(strings.ToLower(strings.TrimSpace(raw)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLetter, raw)
	}
	return l, nil
}

// Valid reports whether l is one of the four option letters.
func (l Letter) Valid() bool {
	switch l {
	case LetterA, LetterB, LetterC, LetterD:
		return true
	}
	return false
}
