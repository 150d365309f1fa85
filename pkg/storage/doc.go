// Package storage provides storage implementations for experiment
// coordination state.
//
// This package includes:
//   - GormStore: a GORM-based implementation supporting various databases
//
// The Store interface is defined in pkg/core and must be implemented by any
// custom storage backend.
//
// Most users should import the root package github.com/jdefouw/EvoNash-sub001
// which provides NewGormStore() to create storage instances.
package storage
