package database

import "swarg/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.UserBlock{},
		&models.UserContact{},
		&models.Group{},
		&models.GroupMember{},
		&models.Message{},
		&models.MessageReaction{},
		&models.MessageDeletion{},
	}
}
