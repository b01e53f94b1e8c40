package service

import (
	"banksim/internal/model"

	"golang.org/x/crypto/bcrypt"
)

// PINHasher PIN 只保存 bcrypt 哈希，校验时比较哈希
type PINHasher struct {
	cost int
}

func NewPINHasher(cost int) *PINHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PINHasher{cost: cost}
}

func (h *PINHasher) Hash(pin string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h *PINHasher) Matches(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// validPIN PIN 必须恰好 4 位 ASCII 数字
func validPIN(pin string) bool {
	if len(pin) != model.PINLength {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
