// buf manages in-memory copies of disk blocks, to be written back on commit
package buf

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lockgroup/common"
	"github.com/mit-pdos/go-lockgroup/disk"
	"github.com/mit-pdos/go-lockgroup/util"
)

// A Buf is a cached copy of one disk block
type Buf struct {
	Blkno common.Bnum
	Data  disk.Block
	dirty bool // has this block been written to?
}

func MkBuf(blkno common.Bnum, data disk.Block) *Buf {
	b := &Buf{
		Blkno: blkno,
		Data:  data,
		dirty: false,
	}
	return b
}

// Load a private copy of a disk block into a new buf
func MkBufLoad(blkno common.Bnum, blk disk.Block) *Buf {
	return MkBuf(blkno, util.CloneByteSlice(blk))
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}

func (buf *Buf) Clone() *Buf {
	return &Buf{
		Blkno: buf.Blkno,
		Data:  util.CloneByteSlice(buf.Data),
		dirty: buf.dirty,
	}
}

// Uint64Get decodes the 8-byte field at byte offset off
func (buf *Buf) Uint64Get(off uint64) uint64 {
	dec := marshal.NewDec(buf.Data[off : off+8])
	return dec.GetInt()
}

// Uint64Put encodes v into the 8-byte field at byte offset off
func (buf *Buf) Uint64Put(off uint64, v uint64) {
	enc := marshal.NewEnc(8)
	enc.PutInt(v)
	copy(buf.Data[off:off+8], enc.Finish())
	buf.SetDirty()
}

// BitGet reports bit n of the block
func (buf *Buf) BitGet(n uint64) bool {
	return buf.Data[n/8]&(1<<(n%8)) != 0
}

// BitPut sets or clears bit n of the block
func (buf *Buf) BitPut(n uint64, v bool) {
	if v {
		buf.Data[n/8] |= 1 << (n % 8)
	} else {
		buf.Data[n/8] &^= 1 << (n % 8)
	}
	buf.SetDirty()
}

// WriteDirect writes the buf's block to d
func (buf *Buf) WriteDirect(d disk.Disk) error {
	util.DPrintf(5, "%v: write direct\n", buf.Blkno)
	return d.Write(buf.Blkno, buf.Data)
}
