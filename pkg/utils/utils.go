package utils

import (
	"math/rand"
)

func RandomString(length int) string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	ret := make([]byte, length)
	for i := 0; i < length; i++ {
		num := rand.Int() % len(letters)
		ret[i] = letters[num]
	}
	return string(ret)
}

// RandomDigits returns length decimal digits; leading zeros are kept.
func RandomDigits(length int) string {
	ret := make([]byte, length)
	for i := 0; i < length; i++ {
		ret[i] = byte('0' + rand.Intn(10))
	}
	return string(ret)
}

func Deref[T any](p *T, defaultValue T) T {
	if p != nil {
		return *p
	}
	return defaultValue
}
