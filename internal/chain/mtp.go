package chain

import "sort"

// MedianTimePastWindow is the number of trailing blocks whose timestamps
// MedianTimePast takes the median of, matching Bitcoin's BIP-113 convention.
const MedianTimePastWindow = 11

// MaxFutureDriftMs is how far into the future (relative to the validator's
// own clock) a block's timestamp may claim to be before it is rejected.
const MaxFutureDriftMs = 2 * 60 * 60 * 1000 // 2 hours

// MedianTimePast returns the median timestamp of the blocks in
// [height-10, height], used to lower-bound the timestamp of the block at
// height+1. Heights below the window simply use however many blocks exist.
func (c *Chain) MedianTimePast(height uint64) (int64, error) {
	start := uint64(0)
	if height+1 > MedianTimePastWindow {
		start = height + 1 - MedianTimePastWindow
	}

	timestamps := make([]int64, 0, MedianTimePastWindow)
	for h := start; h <= height; h++ {
		blk, err := c.blocks.GetBlockByHeight(h)
		if err != nil {
			return 0, err
		}
		timestamps = append(timestamps, blk.Header.Timestamp)
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2], nil
}
