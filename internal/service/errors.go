// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrValidation — ошибка валидации входных данных, запросов к хранилищу не было.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — сборка не найдена.
	ErrNotFound = errors.New("сборка не найдена")
	// ErrConflict — конфликт уникальности идентификатора или shortcode.
	ErrConflict = errors.New("конфликт: сборка уже существует")
	// ErrDataCorruption — сохранённые данные не распаковываются или не разбираются.
	ErrDataCorruption = errors.New("данные сборки повреждены")
	// ErrInfrastructure — хранилище недоступно или вернуло ошибку.
	ErrInfrastructure = errors.New("хранилище недоступно")
)
