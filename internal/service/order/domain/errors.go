package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind 是错误分类。Saga 是否补偿、HTTP 返回什么状态码都只看 Kind。
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindProductNotFound   Kind = "ProductNotFound"
	KindStock             Kind = "StockError"
	KindReservationFailed Kind = "ReservationFailed"
	KindPersistenceFailed Kind = "PersistenceFailed"
	KindPublishFailed     Kind = "PublishFailed"
	KindNotFound          Kind = "NotFound"
	KindInternal          Kind = "Internal"
)

// Error 携带分类和面向调用方的可读信息
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 保留底层原因，Message 仍然是对调用方友好的文本
func WrapError(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类，找不到时为 KindInternal
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf 返回面向调用方的信息，不暴露底层原因
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
