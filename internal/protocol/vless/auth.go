package vless

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Authenticator 持有唯一配置的身份，构造后只读，可被所有会话共享。
type Authenticator struct {
	id uuid.UUID
}

func NewAuthenticator(id uuid.UUID) *Authenticator {
	return &Authenticator{id: id}
}

// Authenticate 逐字节比较凭证，不在秘密字节上提前返回。
func (a *Authenticator) Authenticate(credential uuid.UUID) error {
	if subtle.ConstantTimeCompare(a.id[:], credential[:]) != 1 {
		return ErrAuthFailure
	}
	return nil
}

// Identity 返回配置的身份，用于统计和配置页。
func (a *Authenticator) Identity() uuid.UUID { return a.id }
