package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/roach88/treesync/internal/tree"
)

// Push-id alphabet in sort order.
const (
	pushChars   = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"
	minPushChar = '-'
	maxPushChar = 'z'
	maxKeyLen   = 786
)

// successor returns the smallest key that sorts after key.
func successor(key string) string {
	if key == strconv.Itoa(math.MaxInt32) {
		return string(minPushChar)
	}
	if n, ok := tree.ParseIntKey(key); ok {
		return strconv.FormatInt(n+1, 10)
	}
	if len(key) < maxKeyLen {
		return key + string(minPushChar)
	}
	next := []byte(key)
	i := len(next) - 1
	for i >= 0 && next[i] == maxPushChar {
		i--
	}
	if i < 0 {
		return tree.MaxName
	}
	next[i] = pushChars[strings.IndexByte(pushChars, next[i])+1]
	return string(next[:i+1])
}

// predecessor returns the largest key that sorts before key.
func predecessor(key string) string {
	if key == strconv.Itoa(math.MinInt32) {
		return tree.MinName
	}
	if n, ok := tree.ParseIntKey(key); ok {
		return strconv.FormatInt(n-1, 10)
	}
	next := []byte(key)
	last := len(next) - 1
	if next[last] == minPushChar {
		if len(next) == 1 {
			return strconv.Itoa(math.MaxInt32)
		}
		return string(next[:last])
	}
	if idx := strings.IndexByte(pushChars, next[last]); idx > 0 {
		next[last] = pushChars[idx-1]
	} else {
		next[last]--
	}
	return string(next) + strings.Repeat(string(maxPushChar), maxKeyLen-len(next))
}
