// Package doc implements the document model of dDoc.
//
// A Document is an ordered list of (name, value) fields. The field "_id" is
// the identity of a document inside a collection. Identity comparison is
// structural and works on canonical keys (see Key): numbers compare by value,
// embedded documents field by field in order.
//
// Documents are exchanged as extended JSON. Field order is preserved in both
// directions and ObjectIDs are written as {"$oid":"<hex>"}.
//
// Values must be normalized (see Document.Normalize) before they are stored.
// Normalize is also the well-formedness check used by the write path: it
// rejects empty, duplicate and '$' prefixed field names, array valued _id
// fields, non-finite numbers and unsupported Go types.
package doc
