package memcore

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory indicates that no block was available at any layer reachable from the request
var ErrOutOfMemory error = errors.New("out of memory")

// ErrListEmpty indicates a pop or peek on a freelist with no free blocks
var ErrListEmpty error = errors.New("list empty")

// ErrListFull indicates a push on a freelist that already holds every block it owns
var ErrListFull error = errors.New("list full")

// ErrInvalidPointer indicates a null, foreign, or out-of-range pointer where a
// valid one is required
var ErrInvalidPointer error = errors.New("invalid pointer")

// ErrNotOwned indicates that a raw pointer does not belong to the queried
// allocator. This is recoverable: it is how two sibling allocators distinguish
// each other's pointers.
var ErrNotOwned error = errors.New("pointer not owned")

// ErrSegmentExhausted indicates that a segment manager has every segment slot
// in use and none of them has capacity
var ErrSegmentExhausted error = errors.New("segment exhausted")

// ErrManagerLimit indicates that a growing pool needed a new segment manager
// but has already created its maximum number of managers
var ErrManagerLimit error = errors.New("manager limit reached")

// ErrNotRegistered indicates that a pointer registry cell was empty when a
// conversion or resolution needed it
var ErrNotRegistered error = errors.New("buffer not registered")

// ErrAlreadyRegistered indicates an attempt to register a second buffer or
// pool under a tag whose registry cell is already occupied
var ErrAlreadyRegistered error = errors.New("buffer already registered")
