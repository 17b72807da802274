package utils

import "golang.org/x/crypto/bcrypt"

// 登录是低频操作，固定用默认代价即可
const bcryptCost = bcrypt.DefaultCost

// HashPassword 生成密码哈希
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword 校验明文密码与存储的哈希是否匹配
func VerifyPassword(plain, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
