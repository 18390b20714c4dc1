package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// PayloadDigest 计算载荷的 MD5 摘要。
// webhook 事件用它做重复投递检测（PayPal 偶尔会重发同一事件）。
func PayloadDigest(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}
