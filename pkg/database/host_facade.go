package database

import (
	"context"

	"github.com/umbrella22/ops-service/pkg/database/model"
	"gorm.io/gorm"
)

// HostFacadeInterface is a read-only view over externally owned Host rows;
// the core never writes to this table.
type HostFacadeInterface interface {
	GetByID(ctx context.Context, id string) (*model.Host, error)
	ListByIDs(ctx context.Context, ids []string) ([]*model.Host, error)
}

// HostFacade implements HostFacadeInterface.
type HostFacade struct {
	BaseFacade
}

// NewHostFacade wraps db as a HostFacadeInterface.
func NewHostFacade(db *gorm.DB) HostFacadeInterface {
	return &HostFacade{BaseFacade: NewBaseFacade(db)}
}

func (f *HostFacade) GetByID(ctx context.Context, id string) (*model.Host, error) {
	var host model.Host
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(&host).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &host, nil
}

func (f *HostFacade) ListByIDs(ctx context.Context, ids []string) ([]*model.Host, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var hosts []*model.Host
	err := f.getDB().WithContext(ctx).Where("id IN ?", ids).Find(&hosts).Error
	return hosts, err
}
