package utils

import (
	"regexp"
	"testing"
)

func TestGenerateInviteCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]+$`)

	for _, length := range []int{1, 10, 64} {
		code, err := GenerateInviteCode(length)
		if err != nil {
			t.Fatalf("GenerateInviteCode(%d) 出错: %v", length, err)
		}
		if len(code) != length {
			t.Errorf("期望长度 %d，得到 %d", length, len(code))
		}
		if !pattern.MatchString(code) {
			t.Errorf("邀请码包含非法字符: %q", code)
		}
	}

	if _, err := GenerateInviteCode(0); err == nil {
		t.Error("长度 0 应返回错误")
	}
}

func TestGenerateSecureToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := GenerateSecureToken(24)
		if err != nil {
			t.Fatalf("GenerateSecureToken 出错: %v", err)
		}
		if seen[token] {
			t.Fatalf("令牌重复: %q", token)
		}
		seen[token] = true
		// 24 字节 base64url 编码为 32 个字符
		if len(token) != 32 {
			t.Errorf("期望 32 个字符，得到 %d", len(token))
		}
	}

	// 低于 128 位熵的请求被抬到下限
	token, err := GenerateSecureToken(4)
	if err != nil {
		t.Fatalf("GenerateSecureToken 出错: %v", err)
	}
	if len(token) < 22 {
		t.Errorf("令牌熵低于 128 位下限: %d 个字符", len(token))
	}
}

func TestPayloadDigest(t *testing.T) {
	a := PayloadDigest([]byte(`{"id":"WH-1"}`))
	b := PayloadDigest([]byte(`{"id":"WH-1"}`))
	c := PayloadDigest([]byte(`{"id":"WH-2"}`))

	if a != b {
		t.Error("相同载荷摘要应一致")
	}
	if a == c {
		t.Error("不同载荷摘要不应相同")
	}
	if len(a) != 32 {
		t.Errorf("MD5 摘要应为 32 个十六进制字符，得到 %d", len(a))
	}
}
