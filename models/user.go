package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 后台用户角色常量
const (
	RoleAdmin    = "admin"    // 管理员
	RoleOperator = "operator" // 运营（只读后台）
)

// User 后台用户模型（数据库模型）
type User struct {
	gorm.Model
	Username string `json:"username" gorm:"type:varchar(50);uniqueIndex;not null"`
	Password string `json:"-" gorm:"type:varchar(255);not null"`
	Email    string `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	Role     string `json:"role" gorm:"type:varchar(20);default:'operator'"`
}

func (u *User) HashPassword() error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

func (u *User) ComparePassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
}
