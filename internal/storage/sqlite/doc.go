// Package sqlite provides SQLite-backed passkey persistence.
//
// It is the default on-disk store for challenges, credentials, subjects, and
// web sessions, and is where challenge single-use claims are made atomic by
// the storage engine.
package sqlite
