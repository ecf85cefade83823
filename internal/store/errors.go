package store

import "errors"

// Общие ошибки хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrConflict — версия записи не совпала (конкурентная запись).
	ErrConflict = errors.New("version conflict")

	// ErrUnavailable — хранилище недоступно.
	ErrUnavailable = errors.New("store unavailable")

	// ErrLeaseHeld — lease удерживается другим владельцем.
	ErrLeaseHeld = errors.New("lease held by another owner")

	// ErrUnchanged — мутация решила ничего не записывать.
	ErrUnchanged = errors.New("unchanged")

	// ErrUnsupportedScheme — неизвестная схема URL хранилища.
	ErrUnsupportedScheme = errors.New("unsupported store scheme")
)
