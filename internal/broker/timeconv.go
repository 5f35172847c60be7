package broker

import (
	"math"
	"time"
)

const (
	unixEpochJD  = 2440587.5
	unixEpochMJD = 40587.0
	secondsInDay = 86400.0
)

// JDToTime converts a Julian Date to UTC time.
func JDToTime(jd float64) time.Time {
	return daysSinceUnixEpoch(jd - unixEpochJD)
}

// MJDToTime converts a Modified Julian Date to UTC time.
func MJDToTime(mjd float64) time.Time {
	return daysSinceUnixEpoch(mjd - unixEpochMJD)
}

func daysSinceUnixEpoch(days float64) time.Time {
	secs, frac := math.Modf(days * secondsInDay)
	// microsecond precision is what the stores keep
	return time.Unix(int64(secs), int64(frac*1e9)).UTC().Round(time.Microsecond)
}

// ZTFFilter maps a ZTF filter id to its band name.
func ZTFFilter(fid int) string {
	switch fid {
	case 1:
		return "g"
	case 2:
		return "r"
	case 3:
		return "i"
	default:
		return ""
	}
}
