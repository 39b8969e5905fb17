package schedule

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"time"
)

// crockford avoids the ambiguous I/L/O/U characters so references survive
// being read over the phone.
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewBookingRef mints an opaque, URL-safe booking reference: a base32
// time prefix plus 40 bits of randomness. Collisions are additionally
// excluded by a unique index on the slots table.
func NewBookingRef() string {
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(time.Now().Unix()))

	var entropy [5]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		// crypto/rand only fails when the platform RNG is broken; nothing
		// sensible can run in that state.
		panic("schedule: crypto/rand unavailable: " + err.Error())
	}

	return "BK" + crockford.EncodeToString(ts[:]) + "-" + crockford.EncodeToString(entropy[:])
}
