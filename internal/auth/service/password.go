package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// hashPassword encodes an argon2id hash in the PHC string format.
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false
	}

	memory, timeCost, threads, ok := parseArgonParams(parts[3])
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

func parseArgonParams(raw string) (memory uint32, timeCost uint32, threads uint8, ok bool) {
	var m, t, p string
	for _, param := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(param, "=")
		if !found {
			return 0, 0, 0, false
		}
		switch key {
		case "m":
			m = value
		case "t":
			t = value
		case "p":
			p = value
		}
	}

	m64, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	t64, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	p64, err := strconv.ParseUint(p, 10, 8)
	if err != nil || p64 == 0 {
		return 0, 0, 0, false
	}
	return uint32(m64), uint32(t64), uint8(p64), true
}
