package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// saltLength 盐长度（字节）
const saltLength = 16

// PasswordConfig Argon2id参数
type PasswordConfig struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultPasswordConfig 运维口令的默认强度
var DefaultPasswordConfig = &PasswordConfig{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
}

// HashPassword 用默认强度哈希口令
func HashPassword(password string) (string, error) {
	return HashPasswordWithConfig(password, DefaultPasswordConfig)
}

// HashPasswordWithConfig 哈希口令，输出自描述的存储格式
// $argon2id$v=19$m=<内存>,t=<轮数>,p=<并行>$<盐>$<摘要>
func HashPasswordWithConfig(password string, params *PasswordConfig) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	digest := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLen)

	stored := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Time, params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest))
	return stored, nil
}

// VerifyPassword 校验口令是否与存储的哈希匹配，比较为恒定时间
func VerifyPassword(password, stored string) (bool, error) {
	params, salt, digest, err := decodeStored(stored)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), salt,
		params.Time, params.Memory, params.Threads, params.KeyLen)
	return subtle.ConstantTimeCompare(digest, candidate) == 1, nil
}

// decodeStored 解析存储格式，参数从哈希串自身还原
func decodeStored(stored string) (*PasswordConfig, []byte, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 {
		return nil, nil, nil, fmt.Errorf("哈希格式不合法")
	}
	if parts[1] != "argon2id" {
		return nil, nil, nil, fmt.Errorf("不支持的哈希算法 %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, err
	}
	if version != argon2.Version {
		return nil, nil, nil, fmt.Errorf("argon2版本不兼容: %d", version)
	}

	params := &PasswordConfig{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Time, &params.Threads); err != nil {
		return nil, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, err
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, err
	}
	params.KeyLen = uint32(len(digest))

	return params, salt, digest, nil
}

// GenerateRandomString 生成URL安全的随机字符串
func GenerateRandomString(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw)[:length], nil
}

// GenerateSessionID 生成会话ID
func GenerateSessionID() (string, error) {
	return GenerateRandomString(32)
}

// GenerateVerificationCode 生成6位数字验证码
func GenerateVerificationCode() (string, error) {
	raw := make([]byte, 3)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	n := int(raw[0])<<16 | int(raw[1])<<8 | int(raw[2])
	return fmt.Sprintf("%06d", n%1000000), nil
}
