// Пакет payload — кодек полезной нагрузки сборок.
//
// Клиенты присылают buildData и imageData как base64 от zlib-потока.
// Для совместимости допускаются gzip и «голый» deflate, а также
// URL-safe алфавит base64 и отсутствие паддинга.
package payload

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// DefaultMaxDecodedBytes — предел размера распакованных данных по умолчанию (32 MiB).
const DefaultMaxDecodedBytes int64 = 32 << 20

// ErrCorrupt — нагрузка не декодируется или не распаковывается.
// Все ошибки кодека оборачивают её.
var ErrCorrupt = errors.New("повреждённые данные нагрузки")

// base64Encodings — порядок попыток декодирования base64.
var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// Codec декодирует и распаковывает нагрузку с ограничением размера.
// Безопасен для конкурентного использования.
type Codec struct {
	maxDecoded int64
}

// NewCodec создаёт кодек. maxDecoded <= 0 означает DefaultMaxDecodedBytes.
func NewCodec(maxDecoded int64) *Codec {
	if maxDecoded <= 0 {
		maxDecoded = DefaultMaxDecodedBytes
	}
	return &Codec{maxDecoded: maxDecoded}
}

// MaxDecodedBytes возвращает действующий предел распаковки.
func (c *Codec) MaxDecodedBytes() int64 {
	return c.maxDecoded
}

// DecodeAndDecompress превращает base64-текст в исходные байты.
func (c *Codec) DecodeAndDecompress(text string) ([]byte, error) {
	compressed, err := decodeBase64(text)
	if err != nil {
		return nil, err
	}
	if len(compressed) == 0 {
		return nil, fmt.Errorf("%w: пустой поток", ErrCorrupt)
	}

	r, err := newDecompressor(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, c.maxDecoded+1))
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка распаковки: %v", ErrCorrupt, err)
	}
	if int64(len(raw)) > c.maxDecoded {
		return nil, fmt.Errorf("%w: распакованный размер превышает %d байт", ErrCorrupt, c.maxDecoded)
	}
	return raw, nil
}

// CompressAndEncode упаковывает байты в формат клиентов: zlib + стандартный base64.
func CompressAndEncode(raw []byte) (string, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return "", fmt.Errorf("ошибка создания zlib writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("ошибка сжатия: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("ошибка завершения сжатия: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decodeBase64 пробует алфавиты base64 по очереди.
func decodeBase64(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: пустая строка", ErrCorrupt)
	}

	var firstErr error
	for _, enc := range base64Encodings {
		b, err := enc.DecodeString(text)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("%w: некорректный base64: %v", ErrCorrupt, firstErr)
}

// newDecompressor выбирает распаковщик по заголовку потока.
func newDecompressor(b []byte) (io.ReadCloser, error) {
	switch {
	case isGzip(b):
		return gzip.NewReader(bytes.NewReader(b))
	case isZlib(b):
		return zlib.NewReader(bytes.NewReader(b))
	default:
		return flate.NewReader(bytes.NewReader(b)), nil
	}
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// isZlib проверяет заголовок RFC 1950: метод deflate и контрольную сумму CMF/FLG.
func isZlib(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	cmf, flg := b[0], b[1]
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
