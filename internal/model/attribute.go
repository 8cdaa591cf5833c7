package model

import (
	"fmt"
	"strconv"
)

// EntryKind selects the table an attribute lives in.
type EntryKind int

const (
	// Check entries are compared against the access request (radcheck).
	Check EntryKind = iota
	// Reply entries are returned to the NAS on accept (radreply).
	Reply
)

func (k EntryKind) String() string {
	if k == Check {
		return "check"
	}
	return "reply"
}

// Attribute is the closed set of attributes this service writes.
type Attribute int

const (
	CleartextPassword Attribute = iota + 1
	SessionTimeout
	CallingStationID
)

var attributeNames = map[Attribute]string{
	CleartextPassword: "Cleartext-Password",
	SessionTimeout:    "Session-Timeout",
	CallingStationID:  "Calling-Station-Id",
}

func (a Attribute) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Attribute(%d)", int(a))
}

// Kind reports whether a is a check or reply attribute.
func (a Attribute) Kind() EntryKind {
	if a == CleartextPassword {
		return Check
	}
	return Reply
}

// ParseAttribute maps a stored attribute name back to the enum. Rows other
// tools add (Framed-Pool, Idle-Timeout, ...) yield an error.
func ParseAttribute(name string) (Attribute, error) {
	for a, n := range attributeNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown attribute %q", name)
}

// Op is the FreeRADIUS operator stored alongside an entry.
type Op string

const (
	OpSet Op = ":="
	// OpAdd accumulates into an existing numeric entry. It is never persisted;
	// the stored operator stays OpSet.
	OpAdd Op = "+="
)

// Entry is one typed attribute row for a username.
type Entry struct {
	Attribute Attribute
	Op        Op
	Value     string
}

func PasswordEntry(password string) Entry {
	return Entry{Attribute: CleartextPassword, Op: OpSet, Value: password}
}

func TimeoutEntry(seconds int) Entry {
	return Entry{Attribute: SessionTimeout, Op: OpSet, Value: strconv.Itoa(seconds)}
}

func AddTimeoutEntry(seconds int) Entry {
	return Entry{Attribute: SessionTimeout, Op: OpAdd, Value: strconv.Itoa(seconds)}
}

func BindingEntry(mac string) Entry {
	return Entry{Attribute: CallingStationID, Op: OpSet, Value: mac}
}

// Seconds parses a Session-Timeout value.
func (e Entry) Seconds() (int, error) {
	if e.Attribute != SessionTimeout {
		return 0, fmt.Errorf("%s is not a timeout", e.Attribute)
	}
	n, err := strconv.Atoi(e.Value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", e.Attribute, err)
	}
	return n, nil
}
