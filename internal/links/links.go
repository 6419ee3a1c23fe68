// Пакет links — построение публичных ссылок на сборку по shortcode.
package links

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultProtocol — схема ссылки для загрузки сборки в клиент.
const DefaultProtocol = "mrb"

// Links — набор ссылок на одну сборку.
type Links struct {
	DownloadURL string
	ImageURL    string
	SchemaURL   string
}

// Builder строит ссылки из базового URL сервиса и схемы клиента.
// Конфигурация фиксируется при создании.
type Builder struct {
	baseURL  string
	protocol string
}

// NewBuilder проверяет базовый URL и схему.
// Пустой protocol заменяется на DefaultProtocol.
func NewBuilder(baseURL, protocol string) (*Builder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("некорректный базовый URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("базовый URL %q: ожидается схема http или https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("базовый URL %q: не указан хост", baseURL)
	}

	if protocol == "" {
		protocol = DefaultProtocol
	}
	protocol = strings.TrimSuffix(protocol, "://")
	if !validScheme(protocol) {
		return nil, fmt.Errorf("некорректная схема клиента %q", protocol)
	}

	return &Builder{
		baseURL:  strings.TrimRight(baseURL, "/"),
		protocol: protocol,
	}, nil
}

// Build возвращает ссылки для shortcode.
func (b *Builder) Build(code string) Links {
	escaped := url.PathEscape(code)
	return Links{
		DownloadURL: b.baseURL + "/api/v1/builds/" + escaped + "/download",
		ImageURL:    b.baseURL + "/api/v1/builds/" + escaped + "/image",
		SchemaURL:   b.protocol + "://load/" + escaped,
	}
}

// validScheme проверяет синтаксис схемы URI (RFC 3986, раздел 3.1).
func validScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
