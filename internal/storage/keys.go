package storage

import (
	"fmt"
	"strconv"
	"time"
)

// Key layout. Components are separated by NUL so that IDs sharing a textual
// prefix never share an iteration prefix. Timestamps are zero-padded unix
// nanoseconds so lexical order equals chronological order.
//
//	machine/<id>
//	sample/<machine>\x00<ts>\x00<seq>
//	alert/<id>
//	alertidx/<machine>\x00<type>\x00<ts>\x00<id>
const (
	machinePrefix  = "machine/"
	samplePrefix   = "sample/"
	alertPrefix    = "alert/"
	alertIdxPrefix = "alertidx/"
	sep            = "\x00"
	tsWidth        = 20
)

func machineKey(id string) []byte {
	return []byte(machinePrefix + id)
}

func sampleMachinePrefix(machineID string) []byte {
	return []byte(samplePrefix + machineID + sep)
}

func sampleKey(machineID string, at time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%0*d%s%020d", samplePrefix, machineID, sep, tsWidth, at.UnixNano(), sep, seq))
}

func alertKey(id string) []byte {
	return []byte(alertPrefix + id)
}

func alertIndexPrefix(machineID, alertType string) []byte {
	return []byte(alertIdxPrefix + machineID + sep + alertType + sep)
}

func alertIndexKey(machineID, alertType string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%0*d%s%s", alertIndexPrefix(machineID, alertType), tsWidth, createdAt.UnixNano(), sep, id))
}

// parseIndexSuffix splits the "<ts>\x00<id>" tail of an alert index key.
func parseIndexSuffix(key, prefix []byte) (time.Time, string, error) {
	rest := key[len(prefix):]
	if len(rest) < tsWidth+1 {
		return time.Time{}, "", fmt.Errorf("malformed alert index key %q", key)
	}
	nanos, err := strconv.ParseInt(string(rest[:tsWidth]), 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed alert index key %q: %w", key, err)
	}
	return time.Unix(0, nanos), string(rest[tsWidth+1:]), nil
}
