package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher deriva y verifica hashes de contraseña.
type Hasher interface {
	Hash(pw string) (string, error)
	// Verify nunca falla con error: un hash nil o corrupto es simplemente false.
	Verify(pw string, hash *string) bool
	NeedsRehash(hash string) bool
}

// Params son los costos de argon2id.
type Params struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultParams() Params {
	return Params{MemoryKB: 64 * 1024, Time: 1, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

const phcAlgorithm = "argon2id"

var errMalformedHash = errors.New("malformed password hash")

// Argon2Hasher produce hashes argon2id en formato PHC y acepta bcrypt heredado.
type Argon2Hasher struct {
	params Params
	dummy  parsedHash
}

func NewArgon2Hasher(params Params) (*Argon2Hasher, error) {
	if params.MemoryKB < 8*1024 {
		return nil, errors.New("argon2 memory must be >= 8192 KB")
	}
	if params.Time < 1 || params.Parallelism < 1 {
		return nil, errors.New("argon2 time and parallelism must be >= 1")
	}
	if params.SaltLength < 16 || params.KeyLength < 16 {
		return nil, errors.New("argon2 salt and key length must be >= 16")
	}
	h := &Argon2Hasher{params: params}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	encoded, err := h.Hash(base64.RawStdEncoding.EncodeToString(seed))
	if err != nil {
		return nil, err
	}
	dummy, err := parsePHC(encoded)
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

func (h *Argon2Hasher) Hash(pw string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(pw), salt, h.params.Time, h.params.MemoryKB, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2Hasher) Verify(pw string, hash *string) bool {
	if hash == nil || *hash == "" {
		h.burn(pw)
		return false
	}
	if isBcrypt(*hash) {
		return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(pw)) == nil
	}
	parsed, err := parsePHC(*hash)
	if err != nil {
		h.burn(pw)
		return false
	}
	return parsed.matches(pw)
}

// NeedsRehash indica si el hash es bcrypt o usa costos menores a los actuales.
func (h *Argon2Hasher) NeedsRehash(hash string) bool {
	if isBcrypt(hash) {
		return true
	}
	parsed, err := parsePHC(hash)
	if err != nil {
		return false
	}
	return parsed.memory < h.params.MemoryKB ||
		parsed.time < h.params.Time ||
		parsed.parallelism < h.params.Parallelism ||
		uint32(len(parsed.key)) != h.params.KeyLength
}

// burn gasta una derivación para igualar el costo del camino sin hash.
func (h *Argon2Hasher) burn(pw string) {
	_ = h.dummy.matches(pw)
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

type parsedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p parsedHash) matches(pw string) bool {
	computed := argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1
}

func parsePHC(encoded string) (parsedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithm {
		return parsedHash{}, errMalformedHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return parsedHash{}, errMalformedHash
	}

	var out parsedHash
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return parsedHash{}, errMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return parsedHash{}, errMalformedHash
		}
		switch name {
		case "m":
			out.memory = uint32(n)
		case "t":
			out.time = uint32(n)
		case "p":
			if n > 255 {
				return parsedHash{}, errMalformedHash
			}
			out.parallelism = uint8(n)
		default:
			return parsedHash{}, errMalformedHash
		}
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return parsedHash{}, errMalformedHash
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) < 8 {
		return parsedHash{}, errMalformedHash
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.key) < 16 {
		return parsedHash{}, errMalformedHash
	}
	return out, nil
}
