// Package common holds the scalar types, sentinel constants and layout
// rules shared by every lstore package: RIDs, page identities, attribute
// width and the column-layout rules for base/tail logical pages.
package common

import (
	"fmt"
	"math"
)

// AttributeSize is the fixed width, in bytes, of every stored integer:
// user columns and metadata columns alike. Two's complement, big-endian.
const AttributeSize = 8

// PhysicalPageSize is the byte size of one physical page. A small multiple
// of a typical OS page.
const PhysicalPageSize = 4096

// SlotsPerPage is the number of ATTRIBUTE_SIZE-wide slots a physical page
// holds.
const SlotsPerPage = PhysicalPageSize / AttributeSize

// MaxBasePagesPerRange bounds the base pages owned by one page range.
const MaxBasePagesPerRange = 16

// RecordsPerPageRange is the record capacity of one page range, used by
// the table to route a base RID to its owning page range.
const RecordsPerPageRange = MaxBasePagesPerRange * SlotsPerPage

// MaxBufferPoolSize is the default resident physical-page budget.
const MaxBufferPoolSize = 4096

// MergeTailThreshold is the number of sealed tail pages a page range must
// accumulate before the table enqueues a merge request for it.
const MergeTailThreshold = 3

// Sentinel values. All three must fall outside any value a real RID, slot
// or indirection entry can legitimately take.
const (
	InvalidRID    int64 = 0
	InvalidSlot   int   = -1
	LogicalDelete int64 = math.MinInt64
	NoTail        int64 = InvalidRID
)

// StartBaseRID / StartTailRID are the first RIDs issued on each side of
// the RID space.
const (
	StartBaseRID int64 = 1
	StartTailRID int64 = -1
)

// RID is a record identifier: positive for base records, negative for
// tail records. It is never zero (zero is InvalidRID).
type RID = int64

// IsBase reports whether rid identifies a base-page slot.
func IsBase(rid RID) bool { return rid > 0 }

// IsTail reports whether rid identifies a tail-page slot.
func IsTail(rid RID) bool { return rid < 0 }

// SlotOf returns the slot number within a logical page that rid occupies.
func SlotOf(rid RID) int {
	if rid == InvalidRID {
		return InvalidSlot
	}
	abs := rid
	if abs < 0 {
		abs = -abs
	}
	return int((abs - 1) % SlotsPerPage)
}

// StartingRIDOf returns the starting RID of the logical page that owns rid.
func StartingRIDOf(rid RID) RID {
	if rid == InvalidRID {
		return InvalidRID
	}
	sign := RID(1)
	abs := rid
	if abs < 0 {
		sign = -1
		abs = -abs
	}
	return sign * (((abs-1)/SlotsPerPage)*SlotsPerPage + 1)
}

// MetadataLayout resolves the authoritative column offsets for base/tail
// logical pages, pinning the Open Question from spec.md §9: in
// non-cumulative mode BASE_RID always sits one column before INDIRECTION.
type MetadataLayout struct {
	NumTotalCols int
	Indirection  int
	SchemaEnc    int // -1 when not present (cumulative mode)
	BaseRID      int // present in both modes; right after the user columns in cumulative mode
}

// NewMetadataLayout computes the metadata column layout for a table with
// numUserCols user columns, in cumulative or non-cumulative mode.
func NewMetadataLayout(numUserCols int, cumulative bool) MetadataLayout {
	if cumulative {
		return MetadataLayout{
			NumTotalCols: numUserCols + 2,
			BaseRID:      numUserCols,
			Indirection:  numUserCols + 1,
			SchemaEnc:    -1,
		}
	}
	return MetadataLayout{
		NumTotalCols: numUserCols + 3,
		SchemaEnc:    numUserCols,
		BaseRID:      numUserCols + 1,
		Indirection:  numUserCols + 2,
	}
}

// PageID is the stable string identity of a physical page, deterministic
// from (table, starting RID, column index, merge iteration).
type PageID string

// MakePageID builds the page-id for a tail-side, or not-yet-merged
// base-side, physical page.
func MakePageID(table string, startingRID RID, col int) PageID {
	return PageID(fmt.Sprintf("%s_%d_%d", table, startingRID, col))
}

// MakeBasePageID builds the page-id for a base physical page at a specific
// merge iteration (iteration 0 is the original, pre-merge image).
func MakeBasePageID(table string, startingRID RID, col int, mergeIteration int) PageID {
	if mergeIteration == 0 {
		return MakePageID(table, startingRID, col)
	}
	return PageID(fmt.Sprintf("%s_%d_%d_%d", table, startingRID, col, mergeIteration))
}

// InvariantViolation is panicked when a core invariant the spec treats as
// assertion-class (page-directory double-insert, or delete/replace of a
// starting RID it does not hold) is broken. A duplicate primary-index add
// is not one of these: it returns ErrDuplicateKey. There is no release/debug build split in a library, so these
// always panic rather than returning an error.
type InvariantViolation struct {
	Msg string
}

func (e InvariantViolation) Error() string { return "lstore: invariant violation: " + e.Msg }

// Invariant panics with an InvariantViolation if cond is false.
func Invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(InvariantViolation{Msg: fmt.Sprintf(format, args...)})
	}
}
