package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyApplied операция с таким ID уже применена; повторная
	// отправка (ретрай клиента) подтверждается без повторного применения
	ErrAlreadyApplied = errors.New("op already applied")

	ErrEmptyDeviceID = errors.New("device id is required")
)

// RejectedError доменно-невалидная операция: payload описывает состояние,
// которое сервер не может применить. Ретрай бесполезен, нужна правка
// оператором.
type RejectedError struct {
	OpID   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("op %s rejected: %s", e.OpID, e.Reason)
}

// Reject создает ошибку отклонения операции
func Reject(opID, format string, args ...any) *RejectedError {
	return &RejectedError{OpID: opID, Reason: fmt.Sprintf(format, args...)}
}
