package utils

import (
	"regexp"
	"strings"
)

// 邮箱格式：恰好一个 @，本地部分和主机部分非空，主机部分带点
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsValidEmail 校验邮箱格式
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if strings.Count(email, "@") != 1 {
		return false
	}
	return emailPattern.MatchString(email)
}

// 密码最小长度
const MinPasswordLength = 8

// ValidatePassword 校验密码强度，不合格时返回原因
func ValidatePassword(password, confirm string) string {
	if len(password) < MinPasswordLength {
		return "密码长度不能少于 8 个字符"
	}
	if confirm != "" && confirm != password {
		return "两次输入的密码不一致"
	}
	return ""
}
