package biz

import "fmt"

// Checkpoint records how far an index was built: the (timestamp, id) of
// the last signal included and the number of signals. The zero value is
// the empty checkpoint.
type Checkpoint struct {
	LastItemTimestamp int64 `json:"last_item_timestamp"`
	LastItemID        int64 `json:"last_item_id"`
	TotalHashCount    int64 `json:"total_hash_count"`
}

func (c Checkpoint) IsEmpty() bool {
	return c == Checkpoint{}
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("(ts=%d id=%d count=%d)", c.LastItemTimestamp, c.LastItemID, c.TotalHashCount)
}

// Covers reports whether an index built to c already reflects target.
// The timestamp of c may run ahead of target after tail deletions because
// published timestamps never move backwards.
func (c Checkpoint) Covers(target Checkpoint) bool {
	return c.LastItemID == target.LastItemID &&
		c.TotalHashCount == target.TotalHashCount &&
		c.LastItemTimestamp >= target.LastItemTimestamp
}

// advance folds one signal into the checkpoint.
func (c *Checkpoint) advance(s *ContentSignal) {
	c.LastItemTimestamp = s.CreateTime.Unix()
	c.LastItemID = s.ContentID
	c.TotalHashCount++
}
