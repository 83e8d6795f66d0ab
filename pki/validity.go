package pki

import (
	"fmt"
	"time"
)

// validityBackdate is subtracted from "now" when computing NotBefore so that
// certificates are accepted by clients with slightly slow clocks.
const validityBackdate = 6 * time.Hour

// maxNotAfter is the latest instant a certificate validity can encode
// (99991231235959Z).
var maxNotAfter = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// ConvertValidityPeriod maps a validity period in seconds onto a
// (NotBefore, NotAfter) window anchored at now. Periods reaching past
// maxNotAfter are rejected.
func ConvertValidityPeriod(seconds int64, now time.Time) (notBefore, notAfter time.Time, err error) {
	if seconds <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %d", ErrInvalidValidity, seconds)
	}
	now = now.UTC().Truncate(time.Second)
	if seconds > maxNotAfter.Unix()-now.Unix() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %d seconds ends after %s", ErrInvalidValidity, seconds, maxNotAfter.Format(time.RFC3339))
	}
	return now.Add(-validityBackdate), time.Unix(now.Unix()+seconds, 0).UTC(), nil
}
