package tree

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Sentinel names that sort before and after every real key.
const (
	MinName = "[MIN_NAME]"
	MaxName = "[MAX_NAME]"
)

// Keys with special meaning inside a node.
const (
	PriorityKey = ".priority"
	ValueKey    = ".value"
)

const maxKeyBytes = 768

// CompareKeys orders child keys. Keys that are canonical 32-bit integers
// sort numerically before all other keys; the rest compare by UTF-16 code
// units.
func CompareKeys(a, b string) int {
	if a == b {
		return 0
	}
	if a == MinName || b == MaxName {
		return -1
	}
	if b == MinName || a == MaxName {
		return 1
	}
	ai, aInt := ParseIntKey(a)
	bi, bInt := ParseIntKey(b)
	switch {
	case aInt && bInt:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return len(a) - len(b)
	case aInt:
		return -1
	case bInt:
		return 1
	}
	return CompareUTF16(a, b)
}

// ParseIntKey accepts "0" and optionally negative decimal integers without
// leading zeros that fit in 32 bits.
func ParseIntKey(s string) (int64, bool) {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" || len(digits) > 10 {
		return 0, false
	}
	if digits[0] == '0' && (len(digits) > 1 || len(s) != len(digits)) {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CompareUTF16 compares strings by UTF-16 code units, the ordering used for
// string keys and string values.
func CompareUTF16(a, b string) int {
	if isASCII(a) && isASCII(b) {
		return strings.Compare(a, b)
	}
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	n := min(len(ua), len(ub))
	for i := 0; i < n; i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// ValidateKey checks a user supplied child key.
func ValidateKey(key string) error {
	if key == "" {
		return NewValidationError(ErrCodeInvalidKey, "key must be a non-empty string")
	}
	if len(key) > maxKeyBytes {
		return NewValidationError(ErrCodeInvalidKey, fmt.Sprintf("key is longer than %d bytes", maxKeyBytes))
	}
	if i := strings.IndexFunc(key, isInvalidKeyRune); i >= 0 {
		return &ValidationError{
			Code:    ErrCodeInvalidKey,
			Message: fmt.Sprintf("key %q contains an illegal character at offset %d", key, i),
		}
	}
	return nil
}

// ValidatePath parses and checks a user supplied path string. A leading
// ".info" segment is allowed for connection metadata.
func ValidatePath(s string) (Path, error) {
	p := ParsePath(s)
	for i, seg := range p.segments {
		if i == 0 && seg == ".info" {
			continue
		}
		if err := ValidateKey(seg); err != nil {
			var ve *ValidationError
			if asValidationError(err, &ve) {
				ve.Code = ErrCodeInvalidPath
				ve.Path = s
			}
			return Path{}, err
		}
	}
	return p, nil
}

func isInvalidKeyRune(r rune) bool {
	switch r {
	case '.', '$', '#', '[', ']', '/':
		return true
	}
	return r < 0x20 || r == 0x7f
}
