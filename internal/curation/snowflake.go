package curation

import (
	"strconv"
	"time"
)

// snowflakeEpochFloor is the earliest plausible upload time for a decoded id.
var snowflakeEpochFloor = time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)

// DecodeSnowflakeTime reads the upload time embedded in a numeric video id:
// the upper 32 bits of the 64-bit id are unix seconds. Ids that do not parse,
// or that decode outside [2016-09-01, now+1d], report ok=false.
func DecodeSnowflakeTime(id string, now time.Time) (time.Time, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}, false
	}
	t := time.Unix(int64(n>>32), 0).UTC()
	if t.Before(snowflakeEpochFloor) || t.After(now.Add(24*time.Hour)) {
		return time.Time{}, false
	}
	return t, true
}
