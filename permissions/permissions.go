// Package permissions indexes the transaction rights the backend grants the
// authenticated user under the current company.
package permissions

import "sync"

// Right names one action a permission record may allow.
type Right string

const (
	RightRead    Right = "read"
	RightCreate  Right = "create"
	RightEdit    Right = "edit"
	RightDelete  Right = "delete"
	RightExport  Right = "export"
	RightPrint   Right = "print"
	RightPost    Right = "post"
	RightApprove Right = "approve"
)

// Record is the rights bag for one (module, transaction) pair.
type Record struct {
	ModuleID      int  `json:"moduleId"`
	TransactionID int  `json:"transactionId"`
	Read          bool `json:"read"`
	Create        bool `json:"create"`
	Edit          bool `json:"edit"`
	Delete        bool `json:"delete"`
	Export        bool `json:"export"`
	Print         bool `json:"print"`
	Post          bool `json:"post"`
	Approve       bool `json:"approve"`
}

func (r Record) allows(right Right) bool {
	switch right {
	case RightRead:
		return r.Read
	case RightCreate:
		return r.Create
	case RightEdit:
		return r.Edit
	case RightDelete:
		return r.Delete
	case RightExport:
		return r.Export
	case RightPrint:
		return r.Print
	case RightPost:
		return r.Post
	case RightApprove:
		return r.Approve
	}
	return false
}

type indexKey struct {
	moduleID      int
	transactionID int
}

// Index answers rights questions for the current company. The whole index is
// replaced whenever the session or company changes - never patched key by
// key, so stale per-record drift cannot occur.
type Index struct {
	mu      sync.RWMutex
	records map[indexKey]Record
}

// NewIndex returns an empty Index; every right is denied until Rebuild
// installs records.
func NewIndex() *Index {
	return &Index{records: map[indexKey]Record{}}
}

// Rebuild atomically replaces the entire index. A nil slice (the shape a
// malformed API response decodes to) produces an empty index rather than
// failing the caller.
func (i *Index) Rebuild(records []Record) {
	next := make(map[indexKey]Record, len(records))
	for _, r := range records {
		next[indexKey{moduleID: r.ModuleID, transactionID: r.TransactionID}] = r
	}

	i.mu.Lock()
	i.records = next
	i.mu.Unlock()
}

// Lookup returns the record for the pair, if one exists.
func (i *Index) Lookup(moduleID, transactionID int) (Record, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	r, ok := i.records[indexKey{moduleID: moduleID, transactionID: transactionID}]
	return r, ok
}

// HasRight reports whether the pair allows the named right. Absence of a
// record denies: authorization fails closed.
func (i *Index) HasRight(moduleID, transactionID int, right Right) bool {
	r, ok := i.Lookup(moduleID, transactionID)
	if !ok {
		return false
	}
	return r.allows(right)
}

// Len returns the number of indexed records.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.records)
}
