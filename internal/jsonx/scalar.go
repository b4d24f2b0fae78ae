// Package jsonx holds JSON helpers shared by the vendor clients.
package jsonx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scalar holds a JSON value that vendors send either as a number or as a
// string, such as status codes and numeric order ids. Numbers keep their
// exact digits.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}

	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = Scalar(strings.TrimSpace(str))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("value must be a number or string: %w", err)
	}
	*s = Scalar(n.String())
	return nil
}

func (s Scalar) Int() (int, bool) {
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Is reports whether the value equals n numerically.
func (s Scalar) Is(n int) bool {
	v, ok := s.Int()
	return ok && v == n
}

func (s Scalar) String() string { return string(s) }
