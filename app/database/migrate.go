package database

import "photo-fusion/app/model"

func AutoMigrate() error {
	// 自动迁移表结构
	return DB.AutoMigrate(
		&model.User{},
		&model.ProcessingTask{},
		&model.Media{},
		&model.Face{},
		&model.Person{},
		&model.PersonRelation{},
		&model.DuplicateGroup{},
		&model.DuplicateMember{},
		&model.FailureLog{},
		&model.Tag{},
		&model.MediaTag{},
	)
}
