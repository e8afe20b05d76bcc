// Package handles implements the handle registry & lifetime management of
// spec.md §4.6: server object handle <-> local Proxy, with batched,
// best-effort drop notifications.
package handles

import "fmt"

// Handle is a 64-bit id identifying a server object; 0 is the null handle,
// negative values are reserved (spec.md §3).
type Handle int64

const Null Handle = 0

func (h Handle) IsNull() bool { return h == Null }

func (h Handle) String() string { return fmt.Sprintf("handle#%d", int64(h)) }
