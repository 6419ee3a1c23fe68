// Пакет model — доменные модели сервиса обмена сборками.
package model

import "time"

// Entity — логическое имя сущности сборки.
// Физическое имя коллекции определяется в repository.
const Entity = "build"

// BuildRecord — сохранённая сборка персонажа.
// Единственная хранимая сущность.
type BuildRecord struct {
	// ID — snowflake-идентификатор, неизменяем
	ID int64
	// Shortcode — base62 от ID, уникален, не меняется
	Shortcode string
	// Name — отображаемое имя (опционально)
	Name *string
	// Description — описание (опционально)
	Description *string
	// Archetype — архетип; пуст только у записей старого формата
	Archetype string
	// Primary — основной набор сил
	Primary string
	// Secondary — вторичный набор сил
	Secondary string
	// BuildData — base64 сжатого описания сборки
	BuildData string
	// ImageData — base64 сжатого изображения
	ImageData string
	// PageData — HTML записей старого формата, только чтение
	PageData *string
	CreatedAt time.Time
	UpdatedAt time.Time
	// ExpiresAt — после этого момента запись удаляется хранилищем
	ExpiresAt time.Time
}

// IsLegacy сообщает, что запись старого формата (только PageData).
func (r *BuildRecord) IsLegacy() bool {
	return r.PageData != nil && r.Archetype == "" && r.Primary == "" && r.Secondary == ""
}

// Clone возвращает глубокую копию записи.
func (r *BuildRecord) Clone() *BuildRecord {
	c := *r
	c.Name = cloneString(r.Name)
	c.Description = cloneString(r.Description)
	c.PageData = cloneString(r.PageData)
	return &c
}

// CreateInput — данные для создания сборки. Все поля, кроме Name и Description, обязательны.
type CreateInput struct {
	Name        *string
	Description *string
	Archetype   string
	Primary     string
	Secondary   string
	BuildData   string
	ImageData   string
}

// UpdateInput — данные для обновления сборки.
// BuildData и ImageData обязательны, nil-поля сохраняют прежние значения.
type UpdateInput struct {
	Name        *string
	Description *string
	Primary     *string
	Secondary   *string
	BuildData   string
	ImageData   string
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
