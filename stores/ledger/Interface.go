// Package ledger defines the paged query contract of the authoritative ledger
// store that the token cache loads from.
package ledger

import (
	"context"
	"fmt"
	"slices"

	"github.com/bsv-blockchain/tokencache/model"
)

// Criteria restricts a ledger query to unspent records of the tracked value
// classes. An empty Classes list matches every class.
type Criteria struct {
	Classes []string
}

func (c Criteria) Matches(record *model.TokenRecord) bool {
	return len(c.Classes) == 0 || slices.Contains(c.Classes, record.Value.Type.Class)
}

type SortField int

const (
	SortRecordedTime SortField = iota
	SortOutputIndex
	SortTxHash
)

// Sort lists the ascending sort columns of a query.
type Sort struct {
	Fields []SortField
}

// RecordOrder is the total order the loader relies on.
func RecordOrder() Sort {
	return Sort{Fields: []SortField{SortRecordedTime, SortOutputIndex, SortTxHash}}
}

// PageSpec selects the Number'th (1-based) window of Size records.
type PageSpec struct {
	Number int
	Size   int
}

// Offset returns the absolute position of the first record of the page.
func (p PageSpec) Offset() int {
	return p.Size * (p.Number - 1)
}

func (p PageSpec) String() string {
	return fmt.Sprintf("page %d of size %d", p.Number, p.Size)
}

// Page holds the records of one window. Their order within the page is not
// guaranteed: callers that need the total order must sort by RecordMeta.
type Page struct {
	Spec    PageSpec
	Records []*model.TokenRecord
}

type Query interface {
	Page(ctx context.Context, criteria Criteria, sort Sort, spec PageSpec) (*Page, error)
}

// FeedFunc receives ledger updates, produced records before consumed ones.
type FeedFunc func(ctx context.Context, consumed []model.RecordID, produced []*model.TokenRecord) error
