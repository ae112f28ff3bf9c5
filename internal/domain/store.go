package domain

import "iter"

// RecordReader is the read side of the transaction store consumed by detectors.
// Each call observes a consistent prefix of appends; two calls may observe
// different prefixes when appends run concurrently.
type RecordReader interface {
	// RecordsFor yields the records of address in the given role, in append order.
	RecordsFor(address string, role Role) iter.Seq[*TransactionRecord]

	// AllRecords yields every record in append order.
	AllRecords() iter.Seq[*TransactionRecord]

	// Addresses returns every address seen in the given role, in order of first appearance.
	Addresses(role Role) []string

	// Len returns the number of stored records.
	Len() int
}

// RecordWriter is the write side of the transaction store used by the scan driver.
type RecordWriter interface {
	Append(rec TransactionRecord) error
	Contains(hash string) bool
}
