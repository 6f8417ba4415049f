// Package database holds one facade per aggregate in pkg/database/model,
// each a thin interface-plus-struct pair over a shared *gorm.DB, following
// the teacher's facade split but with the multi-cluster ClusterManager
// lookup chain removed — ops-service runs against a single Postgres
// instance, so BaseFacade resolves its *gorm.DB directly rather than
// walking a cluster registry.
package database

import "gorm.io/gorm"

// BaseFacade is embedded by every aggregate facade and provides the shared
// *gorm.DB accessor.
type BaseFacade struct {
	db *gorm.DB
}

// NewBaseFacade wraps an already-opened *gorm.DB.
func NewBaseFacade(db *gorm.DB) BaseFacade {
	return BaseFacade{db: db}
}

func (f *BaseFacade) getDB() *gorm.DB {
	return f.db
}
