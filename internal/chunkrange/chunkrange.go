// Package chunkrange compresses sets of chunk numbers into the textual range
// form of the Safe Browsing v3 protocol, e.g. "1-4,6-8,15,20-23", and expands
// such texts back into the flat number lists.
package chunkrange

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrBadRange is returned, wrapped, by [Expand] when a range text violates
// the grammar.
const ErrBadRange errors.Error = "bad chunk range"

// Compress returns the canonical text form of nums: unique numbers in
// ascending order with maximal runs of consecutive numbers folded into
// "start-end" pairs.  It returns an empty string when nums is empty.
func Compress(nums []uint32) (s string) {
	if len(nums) == 0 {
		return ""
	}

	sorted := slices.Clone(nums)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	b := &strings.Builder{}
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}

		if b.Len() > 0 {
			_, _ = b.WriteString(",")
		}

		if i == j {
			_, _ = b.WriteString(strconv.FormatUint(uint64(sorted[i]), 10))
		} else {
			_, _ = fmt.Fprintf(b, "%d-%d", sorted[i], sorted[j])
		}

		i = j + 1
	}

	return b.String()
}

// Expand parses one or more range texts and returns the flat list of chunk
// numbers in their textual order.
func Expand(texts ...string) (nums []uint32, err error) {
	for _, text := range texts {
		for elem := range strings.SplitSeq(text, ",") {
			nums, err = expandElement(nums, elem)
			if err != nil {
				return nil, fmt.Errorf("expanding %q: %w", text, err)
			}
		}
	}

	return nums, nil
}

// expandElement appends the numbers of a single range element, either "n" or
// "start-end", to nums.
func expandElement(nums []uint32, elem string) (res []uint32, err error) {
	if elem == "" {
		return nil, fmt.Errorf("%w: empty element", ErrBadRange)
	}

	startStr, endStr, isRange := strings.Cut(elem, "-")
	start, err := parseNum(startStr)
	if err != nil {
		return nil, err
	}

	if !isRange {
		return append(nums, start), nil
	}

	end, err := parseNum(endStr)
	if err != nil {
		return nil, err
	}

	for n := start; n <= end; n++ {
		nums = append(nums, n)
	}

	return nums, nil
}

// parseNum parses a single chunk number.
func parseNum(s string) (n uint32, err error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrBadRange, s)
	}

	return uint32(v), nil
}
