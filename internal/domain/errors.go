package domain

import "errors"

// ErrNoSuchUser возвращается, когда субъект таймлайна не существует.
var ErrNoSuchUser = errors.New("нет такого пользователя")

// ErrInvalidCursor возвращается на некорректный курсор до любого чтения.
var ErrInvalidCursor = errors.New("некорректный курсор")
