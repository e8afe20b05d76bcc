package cos

import (
	"crypto/rand"
	"unsafe"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
)

// Alphabet for generating ids: the same 64 symbols as shortid.DEFAULT_ABC,
// in a different order.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const (
	LenShortID = 9 // per https://github.com/teris-io/shortid#id-length

	mlcg32 = 1103515245 // simple seed constant for xxhash.Checksum64S, any odd constant will do
)

var sid *shortid.Shortid

// InitIDGen seeds the package-level id generator. The package's init calls
// it with seed 0; safe to call more than once.
func InitIDGen(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

func init() { InitIDGen(0) }

// GenUUID returns a short, filesystem- and wire-safe unique id that passes
// IsAlphaNice (never starts or ends with '-' or '_'). Used for SHM
// filenames (§4.9).
func GenUUID() string {
	id := sid.MustGenerate()
	if c := id[0]; c == '-' || c == '_' {
		id = "A" + id
	}
	if c := id[len(id)-1]; c == '-' || c == '_' {
		id += "a"
	}
	return id
}

// HashString64 is the xxhash helper session uses to fold a random UUID
// into the 64-bit self-identifier sent in the hello exchange.
func HashString64(s string) uint64 {
	return xxhash.Checksum64S(UnsafeB(s), mlcg32)
}

// CryptoRandS returns a random alphanumeric string of length l drawn from
// crypto/rand, independent of the shortid generator's state.
func CryptoRandS(l int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, l)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failing means the system entropy source is broken
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}

func IsAlphaNice(s string) bool {
	l := len(s)
	if l == 0 || l > 64 {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		alpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		digit := c >= '0' && c <= '9'
		if alpha || digit {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// UnsafeB/UnsafeS trade a copy for speed in hot hashing paths (xxhash over
// wire-format strings). Never retain the returned slice/string past the
// lifetime of the input.
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func UnsafeS(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}
