package common

import "fmt"

// PageSize is the size of every on-disk page and of every cached frame.
const PageSize = 4096

type (
	TableID uint32
	PageID  uint32
	SlotNum uint16
	TxnID   uint64
)

// NilTxnID marks a page that no transaction has dirtied.
const NilTxnID = TxnID(0)

// PageIdentity addresses a page: the table it belongs to and its number
// inside that table. It is comparable and is used directly as a map key.
type PageIdentity struct {
	TableID TableID
	PageID  PageID
}

// Offset is the byte offset of the page inside the table's file.
func (p PageIdentity) Offset() int64 {
	return int64(p.PageID) * PageSize
}

func (p PageIdentity) String() string {
	return fmt.Sprintf("PAGE:%d:%d", p.TableID, p.PageID)
}

// RecordID locates a tuple: the page it lives on and its slot index.
type RecordID struct {
	TableID TableID
	PageID  PageID
	SlotNum SlotNum
}

func (r RecordID) PageIdentity() PageIdentity {
	return PageIdentity{
		TableID: r.TableID,
		PageID:  r.PageID,
	}
}

func (r RecordID) String() string {
	return fmt.Sprintf("RECORD:%d:%d:%d", r.TableID, r.PageID, r.SlotNum)
}

type Permission uint8

const (
	PermReadOnly Permission = iota
	PermReadWrite
)

func (p Permission) String() string {
	switch p {
	case PermReadOnly:
		return "READ_ONLY"
	case PermReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("Permission(%d)", uint8(p))
	}
}
