package database

import (
	"context"

	"github.com/umbrella22/ops-service/pkg/database/model"
	"gorm.io/gorm"
)

// GroupFacadeInterface is a read-only view over externally owned Group
// rows; group membership is resolved here and then frozen into a Job's
// TargetHostIDs at submission time.
type GroupFacadeInterface interface {
	GetByID(ctx context.Context, id string) (*model.Group, error)
	GetByName(ctx context.Context, name string) (*model.Group, error)
}

// GroupFacade implements GroupFacadeInterface.
type GroupFacade struct {
	BaseFacade
}

// NewGroupFacade wraps db as a GroupFacadeInterface.
func NewGroupFacade(db *gorm.DB) GroupFacadeInterface {
	return &GroupFacade{BaseFacade: NewBaseFacade(db)}
}

func (f *GroupFacade) GetByID(ctx context.Context, id string) (*model.Group, error) {
	var group model.Group
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(&group).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}

func (f *GroupFacade) GetByName(ctx context.Context, name string) (*model.Group, error) {
	var group model.Group
	err := f.getDB().WithContext(ctx).Where("name = ?", name).First(&group).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &group, nil
}
