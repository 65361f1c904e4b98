package model

import (
	"time"
)

type UserRole string

const (
	Student UserRole = "student"
	Admin   UserRole = "admin"
)

type User struct {
	BaseModel
	Email       string     `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Role        UserRole   `gorm:"size:20;default:'student'" json:"role"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func (User) TableName() string {
	return "users"
}
