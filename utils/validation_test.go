package utils

import "testing"

func TestIsValidEmail(t *testing.T) {
	cases := []struct {
		email string
		want  bool
	}{
		{"user@example.com", true},
		{"  user@example.com  ", true},
		{"user.name+tag@sub.example.co", true},
		{"user@example", false},
		{"user@@example.com", false},
		{"@example.com", false},
		{"user@", false},
		{"user example@example.com", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsValidEmail(tc.email); got != tc.want {
			t.Errorf("IsValidEmail(%q) = %v, 期望 %v", tc.email, got, tc.want)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	// 7 位不够，8 位刚好
	if msg := ValidatePassword("1234567", ""); msg == "" {
		t.Error("7 位密码应被拒绝")
	}
	if msg := ValidatePassword("12345678", ""); msg != "" {
		t.Errorf("8 位密码应通过，得到: %s", msg)
	}

	// 确认密码不一致
	if msg := ValidatePassword("12345678", "12345679"); msg == "" {
		t.Error("两次密码不一致应被拒绝")
	}
	// 确认密码留空表示跳过比对
	if msg := ValidatePassword("12345678", ""); msg != "" {
		t.Errorf("确认密码留空应通过，得到: %s", msg)
	}
	if msg := ValidatePassword("12345678", "12345678"); msg != "" {
		t.Errorf("两次一致应通过，得到: %s", msg)
	}
}
