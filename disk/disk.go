package disk

import (
	"errors"

	gdisk "github.com/tchajed/goose/machine/disk"
)

// Block is a BlockSize-byte buffer
type Block = gdisk.Block

const BlockSize uint64 = gdisk.BlockSize

// ErrOutOfBounds is returned for accesses past the end of the disk.
var ErrOutOfBounds = errors.New("disk: block address out of bounds")

// ErrBlockSize is returned when a write is not exactly one block.
var ErrBlockSize = errors.New("disk: buffer is not block-sized")

// Disk provides access to a logical block-based disk
type Disk interface {
	// Read reads a disk block by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}
