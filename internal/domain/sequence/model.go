package sequence

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Entity names with a counter row.
const (
	EntityAppointment    = "APPOINTMENT"
	EntityAssignment     = "ASSIGNMENT"
	EntityAttendance     = "ATTENDANCE"
	EntityServicePackage = "SERVICEPACKAGE"
)

// Counter maps to the sequence_counter table.
type Counter struct {
	EntityName string    `db:"entity_name" json:"entity_name"`
	LastCode   string    `db:"last_code" json:"last_code"`
	Active     bool      `db:"active_flag" json:"active"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

var codePattern = regexp.MustCompile(`^([A-Za-z]+)([0-9]+)$`)

// Code is a parsed entity code: an alphabetic prefix followed by a
// zero-padded number, e.g. ICSCPCK0099.
type Code struct {
	Prefix string
	Number uint64
	Width  int
}

// ParseCode splits s into prefix, number and digit width.
func ParseCode(s string) (Code, error) {
	m := codePattern.FindStringSubmatch(s)
	if m == nil {
		return Code{}, fmt.Errorf("%w: %q", ErrMalformedCounter, s)
	}
	n, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return Code{}, fmt.Errorf("%w: %q: %v", ErrMalformedCounter, s, err)
	}
	return Code{Prefix: m[1], Number: n, Width: len(m[2])}, nil
}

// Next returns the following code. The width is kept; a number that outgrows
// it is rendered wider rather than wrapping.
func (c Code) Next() Code {
	return Code{Prefix: c.Prefix, Number: c.Number + 1, Width: c.Width}
}

func (c Code) String() string {
	return fmt.Sprintf("%s%0*d", c.Prefix, c.Width, c.Number)
}

// NextCode parses last and returns the code after it.
func NextCode(last string) (string, error) {
	c, err := ParseCode(last)
	if err != nil {
		return "", err
	}
	if c.Number == ^uint64(0) {
		return "", fmt.Errorf("%w: %q is exhausted", ErrMalformedCounter, last)
	}
	return c.Next().String(), nil
}
