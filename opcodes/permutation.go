// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package opcodes

// maxPermutationRegisters is the number of callee-saved registers
// a frameless opcode can name.
const maxPermutationRegisters = 6

// permutationCount returns the number of ordered selections
// of count registers out of six,
// which is also the exclusive upper bound of a valid encoding.
func permutationCount(count int) uint32 {
	n := uint32(1)
	for i := range count {
		n *= uint32(maxPermutationRegisters - i)
	}
	return n
}

// DecodePermutation recovers the ordered list of saved register numbers (1-6)
// from a frameless opcode's register count and permutation index.
// Registers are returned in the order they were pushed.
// Slots at and after count are zero.
// ok is false if count is greater than six
// or the index is out of range for count.
//
// The index is a mixed-radix number whose i'th digit (radix 6-i)
// selects one of the registers not named by earlier digits,
// counting from the lowest register number.
func DecodePermutation(count, index uint32) (regs [maxPermutationRegisters]uint8, ok bool) {
	if count > maxPermutationRegisters {
		return regs, false
	}
	n := int(count)
	weight := permutationCount(n)
	if index >= weight {
		return regs, false
	}

	var used [maxPermutationRegisters + 1]bool
	for i := range n {
		weight /= uint32(maxPermutationRegisters - i)
		digit := index / weight
		index %= weight

		rank := uint32(0)
		for r := 1; r <= maxPermutationRegisters; r++ {
			if used[r] {
				continue
			}
			if rank == digit {
				regs[i] = uint8(r)
				used[r] = true
				break
			}
			rank++
		}
	}
	return regs, true
}

// EncodePermutation is the inverse of [DecodePermutation].
// It returns the permutation index for the given push order of register numbers.
// ok is false if there are more than six registers,
// a register number is outside 1-6,
// or a register appears more than once.
func EncodePermutation(regs []uint8) (index uint32, ok bool) {
	n := len(regs)
	if n > maxPermutationRegisters {
		return 0, false
	}
	weight := permutationCount(n)
	var used [maxPermutationRegisters + 1]bool
	for i, r := range regs {
		if r < 1 || r > maxPermutationRegisters || used[r] {
			return 0, false
		}
		digit := uint32(0)
		for lower := uint8(1); lower < r; lower++ {
			if !used[lower] {
				digit++
			}
		}
		used[r] = true
		weight /= uint32(maxPermutationRegisters - i)
		index += digit * weight
	}
	return index, true
}
