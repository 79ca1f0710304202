// Package crate models the slots of an AMC crate: which slots are expected
// to hold a card, the identity and connection parameters of each card, and
// the hardware bound to it once initialized.
package crate

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxSlots is the number of AMC slots in a crate.
const MaxSlots = 12

// EnableMask has bit slot-1 set for every slot expected to hold a card.
type EnableMask uint16

// ParseEnableList parses a slot list such as "2-4,7" into a mask. Slots are
// numbered 1..MaxSlots. Whitespace around entries is ignored and an empty
// list enables nothing.
func ParseEnableList(list string) (EnableMask, error) {
	var mask EnableMask

	list = strings.TrimSpace(list)
	if list == "" {
		return 0, nil
	}

	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return 0, fmt.Errorf("empty entry in slot list %q", list)
		}

		first, last, isRange := strings.Cut(entry, "-")
		lo, err := parseSlot(first)
		if err != nil {
			return 0, err
		}
		hi := lo
		if isRange {
			if hi, err = parseSlot(last); err != nil {
				return 0, err
			}
			if hi < lo {
				return 0, fmt.Errorf("descending slot range %q", entry)
			}
		}

		for slot := lo; slot <= hi; slot++ {
			mask |= 1 << (slot - 1)
		}
	}

	return mask, nil
}

func parseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q", s)
	}
	if slot < 1 || slot > MaxSlots {
		return 0, fmt.Errorf("slot %d out of range 1..%d", slot, MaxSlots)
	}
	return slot, nil
}

// Has reports whether the 1-based slot is enabled.
func (m EnableMask) Has(slot int) bool {
	if slot < 1 || slot > MaxSlots {
		return false
	}
	return m&(1<<(slot-1)) != 0
}

// Slots lists the enabled slots in ascending order.
func (m EnableMask) Slots() []int {
	var slots []int
	for slot := 1; slot <= MaxSlots; slot++ {
		if m.Has(slot) {
			slots = append(slots, slot)
		}
	}
	return slots
}

func (m EnableMask) String() string {
	return fmt.Sprintf("0x%03x", uint16(m))
}
