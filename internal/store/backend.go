package store

import "context"

// Backend: персистентное key-value хранилище. Отсутствие ключа не ошибка: ok == false.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}
