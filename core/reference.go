package core

import (
	"fmt"
	"time"
)

const referenceModulo = 100_000_000

// ReferenceNumber derives a human readable 8 digit reference from the last
// eight digits of the Unix millisecond timestamp. It is a display hint and
// carries no uniqueness guarantee.
func ReferenceNumber(at time.Time) string {
	ms := at.UnixMilli() % referenceModulo
	if ms < 0 {
		ms += referenceModulo
	}
	return fmt.Sprintf("%08d", ms)
}
