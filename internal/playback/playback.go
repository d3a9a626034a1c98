// Package playback keeps generated content in step with the video position.
package playback

import (
	"sort"

	"vidlense/internal/models"
	"vidlense/internal/timecode"
)

// ActiveIndex returns the index of the item playing at seconds: the last item
// whose start is at or before seconds, provided the next item starts after it.
// The last item has no end. It returns -1 when seconds precedes every item.
// items must be in chronological order.
func ActiveIndex(items []models.TimecodeItem, seconds float64) int {
	for i := range items {
		start := timecode.Parse(items[i].Time)
		if start > seconds {
			continue
		}
		if i == len(items)-1 || timecode.Parse(items[i+1].Time) > seconds {
			return i
		}
	}
	return -1
}

// Caption returns the text of the latest item that has started by seconds,
// scanning from the end of the list.
func Caption(items []models.TimecodeItem, seconds float64) string {
	for i := len(items) - 1; i >= 0; i-- {
		if timecode.Parse(items[i].Time) <= seconds {
			return items[i].Text
		}
	}
	return ""
}

// Cursor is the authoritative playback position of one session.
//
// Time follows the time reports of the player. A seek sets Time and bumps
// SeekSeq; the player jumps whenever it sees a sequence it has not handled,
// so seeking twice to the same position still produces two jumps.
type Cursor struct {
	Time       float64  `json:"time"`
	SeekTarget *float64 `json:"seekTarget,omitempty"`
	SeekSeq    int64    `json:"seekSeq"`
}

// Update records a time report from the player.
func (c *Cursor) Update(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	c.Time = seconds
}

// Seek requests a jump to seconds.
func (c *Cursor) Seek(seconds float64) int64 {
	if seconds < 0 {
		seconds = 0
	}
	c.Time = seconds
	target := seconds
	c.SeekTarget = &target
	c.SeekSeq++
	return c.SeekSeq
}

// Reset rewinds the cursor for a new video. The sequence keeps counting.
func (c *Cursor) Reset() {
	c.Time = 0
	c.SeekTarget = nil
}

// MergeRanges sorts played ranges and joins the ones that overlap or touch.
// Inverted or empty ranges are dropped.
func MergeRanges(ranges []models.WatchedRange) []models.WatchedRange {
	var valid []models.WatchedRange
	for _, r := range ranges {
		if r[1] > r[0] {
			valid = append(valid, r)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i][0] < valid[j][0] })

	var merged []models.WatchedRange
	for _, r := range valid {
		if n := len(merged); n > 0 && r[0] <= merged[n-1][1] {
			if r[1] > merged[n-1][1] {
				merged[n-1][1] = r[1]
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// WatchedSeconds sums the length of merged ranges.
func WatchedSeconds(ranges []models.WatchedRange) float64 {
	var total float64
	for _, r := range MergeRanges(ranges) {
		total += r[1] - r[0]
	}
	return total
}
