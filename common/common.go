package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	// NBITBLOCK is the number of bits in a disk block.
	NBITBLOCK uint64 = disk.BlockSize * 8

	// LEDGERMAGIC marks the superblock of a formatted ledger disk.
	LEDGERMAGIC uint64 = 0x6c6564676572

	SUPERBLK    Bnum = 0 // superblock
	BITMAPSTART Bnum = 1 // first allocator bitmap block
)

type Bnum = uint64

const (
	NULLBNUM Bnum = 0
)
