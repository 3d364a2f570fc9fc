package ksx

import (
	"fmt"
	"strconv"
	"strings"
)

// Sub-id layout constants.
const (
	subSingleMask = 0x0F
	subGroupMask  = 0xF0
	subFull       = 0x0F
	subAll        = 0xFF

	// minIndividual and maxIndividual bound individual slots in a nibble.
	minIndividual = 0x1
	maxIndividual = 0xE

	addressPrefix = "::"
	addressHexLen = 4
)

// SubID is the second address byte of a frame. The low nibble selects an
// individual device (1-0xE, 0 none, 0xF all), the high nibble a group
// (1-0xE, 0xF all groups); 0xFF addresses everyone.
//
// Routing decisions must go through the predicates below, never raw byte
// comparisons: 0x0F is "all individuals, no group" while 0x1F is "all
// individuals of group 1".
type SubID byte

// Value returns the raw byte.
func (s SubID) Value() byte { return byte(s) }

// Single returns the individual nibble.
func (s SubID) Single() byte { return byte(s) & subSingleMask }

// Group returns the group nibble shifted down (0-0xF).
func (s SubID) Group() byte { return (byte(s) & subGroupMask) >> 4 }

// HasSingle reports whether one particular individual is addressed.
func (s SubID) HasSingle() bool { return s.Single() != 0 && !s.HasFull() }

// HasGroup reports whether a group nibble is present. The everyone address
// carries no group.
func (s SubID) HasGroup() bool { return byte(s)&subGroupMask != 0 && byte(s) != subAll }

// HasFull reports whether all individuals are addressed.
func (s SubID) HasFull() bool { return s.Single() == subFull }

// IsSingle reports an individual outside any group.
func (s SubID) IsSingle() bool { return s.HasSingle() && !s.HasGroup() }

// IsFull reports all individuals outside any group.
func (s SubID) IsFull() bool { return s.HasFull() && !s.HasGroup() }

// IsSingleOfGroup reports an individual inside a group.
func (s SubID) IsSingleOfGroup() bool { return s.HasSingle() && s.HasGroup() }

// IsFullOfGroup reports all individuals of one group.
func (s SubID) IsFullOfGroup() bool { return s.HasFull() && s.HasGroup() }

// IsAll reports the everyone address.
func (s SubID) IsAll() bool { return byte(s) == subAll }

// Address identifies one logical device by kind and sub-id.
//
// Its canonical form is "::KKSS" in uppercase hex. Address is comparable
// and equal addresses have equal canonical strings, so it is used directly
// as a map key.
type Address struct {
	kind Kind
	sub  SubID
}

// NewAddress builds an Address from raw bytes.
func NewAddress(kind Kind, sub byte) Address {
	return Address{kind: kind, sub: SubID(sub)}
}

// ParseAddress parses the "::KKSS" form, case-insensitively.
//
// Parameters:
//   - s: Address string, e.g. "::0E01"
//
// Returns:
//   - Address: Parsed address
//   - error: ErrInvalidAddress if the prefix or hex digits are wrong
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, addressPrefix) {
		return Address{}, fmt.Errorf("%w: missing %q prefix in %q", ErrInvalidAddress, addressPrefix, s)
	}
	digits := trimmed[len(addressPrefix):]
	if len(digits) != addressHexLen {
		return Address{}, fmt.Errorf("%w: expected %d hex digits in %q", ErrInvalidAddress, addressHexLen, s)
	}

	kind, err := strconv.ParseUint(digits[:2], 16, 8)
	if err != nil {
		return Address{}, fmt.Errorf("%w: kind %q: %w", ErrInvalidAddress, digits[:2], err)
	}
	sub, err := strconv.ParseUint(digits[2:], 16, 8)
	if err != nil {
		return Address{}, fmt.Errorf("%w: sub-id %q: %w", ErrInvalidAddress, digits[2:], err)
	}

	return NewAddress(Kind(kind), byte(sub)), nil
}

// MustParseAddress is like ParseAddress but panics on error. It is meant
// for constants in tests and tables.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Kind returns the device kind id.
func (a Address) Kind() Kind { return a.kind }

// Sub returns the sub-id.
func (a Address) Sub() SubID { return a.sub }

// String returns the canonical "::KKSS" form.
func (a Address) String() string {
	return fmt.Sprintf("%s%02X%02X", addressPrefix, byte(a.kind), byte(a.sub))
}

// WithSub returns the address of the same kind with another sub-id.
func (a Address) WithSub(sub byte) Address {
	return NewAddress(a.kind, sub)
}

// Parent returns the full address of this address's group ("upper|0x0F").
func (a Address) Parent() Address {
	return a.WithSub((a.sub.Value() & subGroupMask) | subFull)
}

// Siblings returns the individual addresses 1..0xE that share this
// address's group nibble.
func (a Address) Siblings() []Address {
	upper := a.sub.Value() & subGroupMask
	out := make([]Address, 0, maxIndividual)
	for i := byte(minIndividual); i <= maxIndividual; i++ {
		out = append(out, a.WithSub(upper|i))
	}
	return out
}

// FanOut returns every address a frame sent to a should be delivered to:
// the exact address first, then every individual when the sub-id addresses
// all individuals, without duplicates.
func (a Address) FanOut() []Address {
	out := []Address{a}
	if !a.sub.HasFull() {
		return out
	}
	// 0x0F and 0x?F expand to the individuals of the (possibly empty) group;
	// 0xFF reaches 0xF1..0xFE the same way.
	return append(out, a.Siblings()...)
}
