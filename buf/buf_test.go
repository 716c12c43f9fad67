package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-lockgroup/disk"
)

func TestUint64Fields(t *testing.T) {
	assert := assert.New(t)
	b := MkBuf(3, make(disk.Block, disk.BlockSize))
	assert.False(b.IsDirty())

	b.Uint64Put(0, 42)
	b.Uint64Put(8, 1<<63)
	assert.True(b.IsDirty())
	assert.Equal(uint64(42), b.Uint64Get(0))
	assert.Equal(uint64(1<<63), b.Uint64Get(8))
	assert.Equal(uint64(0), b.Uint64Get(16))
}

func TestBits(t *testing.T) {
	assert := assert.New(t)
	b := MkBuf(3, make(disk.Block, disk.BlockSize))
	b.BitPut(0, true)
	b.BitPut(9, true)
	assert.True(b.BitGet(0))
	assert.True(b.BitGet(9))
	assert.False(b.BitGet(8))
	assert.Equal(byte(2), b.Data[1])

	b.BitPut(9, false)
	assert.False(b.BitGet(9))
}

func TestLoadIsPrivate(t *testing.T) {
	blk := make(disk.Block, disk.BlockSize)
	b := MkBufLoad(1, blk)
	b.Uint64Put(0, 7)
	assert.Equal(t, byte(0), blk[0], "loaded buf must not alias the block")

	c := b.Clone()
	c.Uint64Put(0, 8)
	assert.Equal(t, uint64(7), b.Uint64Get(0))
}

func TestWriteDirect(t *testing.T) {
	d := disk.NewMemDisk(4)
	b := MkBuf(2, make(disk.Block, disk.BlockSize))
	b.Uint64Put(0, 99)
	assert.NoError(t, b.WriteDirect(d))

	blk, err := d.Read(2)
	assert.NoError(t, err)
	assert.Equal(t, uint64(99), MkBufLoad(2, blk).Uint64Get(0))
}
