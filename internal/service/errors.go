package service

import (
	"errors"
	"fmt"

	"banksim/internal/repository"
)

// 错误分类，调用方用 errors.Is 判断
var (
	ErrValidation        = errors.New("validation")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStore             = errors.New("store")
)

// Error 业务错误：Kind 为上面的分类之一，Msg 可直接展示给用户，Err 为底层原因（只记日志）
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func notFoundError(msg string) error {
	return &Error{Kind: ErrNotFound, Msg: msg}
}

// 登录失败统一提示，不区分账号不存在还是 PIN 错误
func invalidCredentialError() error {
	return &Error{Kind: ErrNotFound, Msg: "账号或 PIN 错误"}
}

func insufficientFundsError() error {
	return &Error{Kind: ErrInsufficientFunds, Msg: "余额不足"}
}

func storeError(op string, err error) error {
	return &Error{Kind: ErrStore, Msg: "系统繁忙，请稍后重试", Err: fmt.Errorf("%s: %w", op, err)}
}

// translate 把事务 / 仓储层返回的错误统一成业务错误
func translate(op string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return notFoundError("账户不存在")
	case errors.Is(err, repository.ErrDuplicateAadhar):
		return &Error{Kind: ErrConflict, Msg: "该 Aadhar 已开户"}
	case errors.Is(err, repository.ErrDuplicatePAN):
		return &Error{Kind: ErrConflict, Msg: "该 PAN 已开户"}
	default:
		return storeError(op, err)
	}
}

// UserMessage 返回可以展示给用户的提示语
func UserMessage(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return "系统繁忙，请稍后重试"
}
