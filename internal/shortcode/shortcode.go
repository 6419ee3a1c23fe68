// Пакет shortcode — кодек base62 для коротких кодов сборок.
//
// Алфавит: 0-9, a-z, A-Z (62 символа). Порядок символов фиксирован навсегда:
// по нему вычисляются все уже выданные коды, смена порядка сделает их невалидными.
//
// Вход кодируется как беззнаковое целое в big-endian, цифры выводятся
// начиная со старшей. Ведущие нулевые байты не сохраняются: Decode(Encode(b))
// совпадает с b по числовому значению, но не обязательно побайтно.
package shortcode

import (
	"errors"
	"math"
	"math/big"
)

// Alphabet — символы base62 в порядке возрастания значения цифры.
const Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz" + "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

const base = 62

// Zero — каноническое представление нулевого значения (и пустого входа).
const Zero = "0"

// Ошибки кодека.
var (
	// ErrInvalidCharacter — символ вне алфавита base62.
	ErrInvalidCharacter = errors.New("недопустимый символ в shortcode")
	// ErrEmpty — пустая строка не является shortcode.
	ErrEmpty = errors.New("пустой shortcode")
	// ErrOverflow — значение не помещается в uint64.
	ErrOverflow = errors.New("значение shortcode превышает диапазон uint64")
)

// digitValue — таблица символ → значение цифры, -1 для символов вне алфавита.
var digitValue [256]int8

var bigBase = big.NewInt(base)

func init() {
	for i := range digitValue {
		digitValue[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		digitValue[Alphabet[i]] = int8(i)
	}
}

// Encode кодирует байты (беззнаковое big-endian целое) в строку base62.
// Пустой вход и нулевое значение дают Zero.
func Encode(b []byte) string {
	n := new(big.Int).SetBytes(b)
	if n.Sign() == 0 {
		return Zero
	}

	out := make([]byte, 0, len(b)*4/3+1)
	rem := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, bigBase, rem)
		out = append(out, Alphabet[rem.Int64()])
	}
	reverse(out)
	return string(out)
}

// Decode — обратная операция к Encode по числовому значению.
// Возвращает минимальное big-endian представление; ноль — один нулевой байт.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrEmpty
	}

	n := new(big.Int)
	digit := new(big.Int)
	for i := 0; i < len(s); i++ {
		v := digitValue[s[i]]
		if v < 0 {
			return nil, ErrInvalidCharacter
		}
		n.Mul(n, bigBase)
		n.Add(n, digit.SetInt64(int64(v)))
	}

	if n.Sign() == 0 {
		return []byte{0}, nil
	}
	return n.Bytes(), nil
}

// EncodeUint64 кодирует число без промежуточного big.Int.
// Результат совпадает с Encode для big-endian представления n.
func EncodeUint64(n uint64) string {
	if n == 0 {
		return Zero
	}

	var buf [11]byte // 62^11 > 2^64
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n%base]
		n /= base
	}
	return string(buf[i:])
}

// DecodeUint64 декодирует shortcode в uint64.
// Значения больше math.MaxUint64 отклоняются с ErrOverflow.
func DecodeUint64(s string) (uint64, error) {
	if s == "" {
		return 0, ErrEmpty
	}

	var n uint64
	for i := 0; i < len(s); i++ {
		v := digitValue[s[i]]
		if v < 0 {
			return 0, ErrInvalidCharacter
		}
		if n > (math.MaxUint64-uint64(v))/base {
			return 0, ErrOverflow
		}
		n = n*base + uint64(v)
	}
	return n, nil
}

// Valid сообщает, состоит ли s только из символов алфавита (и не пуста).
// Диапазон значения не проверяется: унаследованные коды могут быть длиннее uint64.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if digitValue[s[i]] < 0 {
			return false
		}
	}
	return true
}

// reverse переворачивает срез на месте.
func reverse(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
