// Package hostobj provides an integer-keyed table for host objects that
// back guest-visible objects.
//
// Guest objects cannot hold Go values directly. A module inserts its host
// state into a Table, stores the returned key in a hidden property of the
// guest object, and recovers the state inside method implementations by
// reading the key back from the receiver.
package hostobj
