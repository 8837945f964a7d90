package models

import "fmt"

// DocumentRef names a document and the version the caller last saw.
// Version 0 skips the caller-side check; the store's version check still applies.
type DocumentRef struct {
	ID      string `json:"id" validate:"required"`
	Version int    `json:"version"`
}

func Ref(id string, version int) DocumentRef {
	return DocumentRef{ID: id, Version: version}
}

// CheckVersion reports ErrConcurrentModification when the caller saw an older version.
func (r DocumentRef) CheckVersion(docType DocumentType, current int) error {
	if r.Version != 0 && r.Version != current {
		return fmt.Errorf("%w: %s %s is at version %d, caller has %d", ErrConcurrentModification, docType, r.ID, current, r.Version)
	}
	return nil
}

// LockKey is "<type>:<id>"; keys sort by DocumentType.LockRank then id.
type LockKey struct {
	Type DocumentType
	ID   string
}

func (k LockKey) String() string {
	return fmt.Sprintf("%s:%s", k.Type, k.ID)
}

func (k LockKey) Less(o LockKey) bool {
	if k.Type.LockRank() != o.Type.LockRank() {
		return k.Type.LockRank() < o.Type.LockRank()
	}
	return k.ID < o.ID
}

// CommissionSource is the document a commission is earned on: an order or an invoice.
type CommissionSource struct {
	Type DocumentType `json:"type"`
	ID   string       `json:"id"`
}

func (s CommissionSource) Validate() error {
	if s.ID == "" || (s.Type != DocumentTypeSalesOrder && s.Type != DocumentTypeInvoice) {
		return fmt.Errorf("%w: commission source %s/%q", ErrInvalidInput, s.Type, s.ID)
	}
	return nil
}

// LockKey for a commission is keyed by its source so it can be taken before the record exists.
func (s CommissionSource) LockKey() LockKey {
	return LockKey{Type: DocumentTypeCommission, ID: string(s.Type) + ":" + s.ID}
}
