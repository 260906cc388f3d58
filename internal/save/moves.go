package save

import (
	"fmt"

	"hash/api/internal/editor"
	"hash/api/internal/entity"
)

type placedBlock struct {
	block  entity.Block
	target int
}

// targetOrder assigns every block its index in the document order of the
// surviving blocks. Repeated ids are matched occurrence by occurrence.
func targetOrder(blocks []entity.Block, nodes []editor.EntityNode) ([]placedBlock, error) {
	remaining := make(map[string]int, len(blocks))
	for _, block := range blocks {
		remaining[block.EntityID]++
	}

	ordinals := make(map[string][]int, len(blocks))
	next := 0
	for _, node := range nodes {
		if !node.Bound() || remaining[node.EntityID] == 0 {
			continue
		}
		remaining[node.EntityID]--
		ordinals[node.EntityID] = append(ordinals[node.EntityID], next)
		next++
	}

	placed := make([]placedBlock, len(blocks))
	for position, block := range blocks {
		queue := ordinals[block.EntityID]
		if len(queue) == 0 {
			return nil, fmt.Errorf("%w: block %s at position %d not found in document while calculating moves", ErrInvariantViolation, block.EntityID, position)
		}
		placed[position] = placedBlock{block: block, target: queue[0]}
		ordinals[block.EntityID] = queue[1:]
	}
	return placed, nil
}

// longestIncreasing returns the indexes of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) map[int]struct{} {
	tails := make([]int, 0, len(seq))
	prev := make([]int, len(seq))
	for i, value := range seq {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if seq[tails[mid]] < value {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		prev[i] = -1
		if lo > 0 {
			prev[i] = tails[lo-1]
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}

	keep := make(map[int]struct{}, len(tails))
	if len(tails) == 0 {
		return keep
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		keep[seq[i]] = struct{}{}
	}
	return keep
}

func indexOfTarget(list []placedBlock, target int) int {
	for i, item := range list {
		if item.target == target {
			return i
		}
	}
	return -1
}

// moveBlocks reorders the surviving blocks into document order. Blocks on a
// longest increasing run of target positions stay put; every other block is
// moved, in document order, to just after its document predecessor.
func moveBlocks(blocks []entity.Block, nodes []editor.EntityNode) ([]Action, []entity.Block, error) {
	working, err := targetOrder(blocks, nodes)
	if err != nil {
		return nil, nil, err
	}

	seq := make([]int, len(working))
	for i, item := range working {
		seq[i] = item.target
	}
	stay := longestIncreasing(seq)

	var actions []Action
	for target := 0; target < len(working); target++ {
		if _, ok := stay[target]; ok {
			continue
		}
		current := indexOfTarget(working, target)
		item := working[current]
		working = append(working[:current], working[current+1:]...)

		newPosition := 0
		if target > 0 {
			newPosition = indexOfTarget(working, target-1) + 1
		}

		working = append(working, placedBlock{})
		copy(working[newPosition+1:], working[newPosition:])
		working[newPosition] = item

		if current != newPosition {
			actions = append(actions, Action{MoveBlock: &MoveBlock{CurrentPosition: current, NewPosition: newPosition}})
		}
	}

	out := make([]entity.Block, len(working))
	for i, item := range working {
		out[i] = item.block
	}
	return actions, out, nil
}
