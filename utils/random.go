package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// 邀请码字符集：Wizarr 门户只接受大写字母和数字
const inviteCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateInviteCode 生成指定长度的邀请码（A-Z0-9）
// 在生产环境中，此函数返回错误而不是 panic。
func GenerateInviteCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be a positive integer")
	}
	b := make([]byte, length)
	max := big.NewInt(int64(len(inviteCodeChars)))
	for i := range b {
		val, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for code: %w", err)
		}
		b[i] = inviteCodeChars[val.Int64()]
	}
	return string(b), nil
}

// GenerateSecureToken 生成 URL 安全的随机令牌，熵不低于 numBytes*8 位。
// 分享链接的 token 和 sessionToken 都由此生成（24 字节 = 192 位）。
func GenerateSecureToken(numBytes int) (string, error) {
	if numBytes < 16 {
		// 低于 128 位熵的令牌不允许生成
		numBytes = 16
	}
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes for token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
