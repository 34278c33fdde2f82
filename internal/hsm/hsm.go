package hsm

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"golang.org/x/crypto/argon2"
)

const saltLen = 16

// HSMInterface defines the secret-handling operations used by the wallet.
type HSMInterface interface {
	// One-time codes
	GenerateCode(digits int) (string, error)
	HashCode(code string) (string, error)
	VerifyCode(code, hashedCode string) (bool, error)

	// Payout instructions handed to the on-chain broadcaster
	SignPayout(p *PayoutInstruction) (string, error)
	VerifyPayout(p *PayoutInstruction, signature string) (bool, error)
}

// PayoutInstruction is the signed body of a confirmed withdrawal.
type PayoutInstruction struct {
	RequestID string    `json:"request_id"`
	Asset     string    `json:"asset"`
	Network   string    `json:"network"`
	Address   string    `json:"address"`
	Amount    string    `json:"amount"`
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
}

// HashParams are the Argon2id cost parameters for code hashing.
type HashParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

var DefaultHashParams = HashParams{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32}

// Config holds HSM configuration
type Config struct {
	MasterKey  string
	KeyID      string
	Salt       []byte // Optional: defaults to the key id so signatures survive restarts
	HashParams *HashParams
}

// HSMServer implements HSMInterface
type HSMServer struct {
	keyID      string
	signingKey []byte
	params     HashParams
}

// InitHSM derives the payout signing key from the master key.
func InitHSM(config Config) (*HSMServer, error) {
	if config.MasterKey == "" {
		return nil, errors.New("master key required")
	}
	if config.KeyID == "" {
		config.KeyID = "payout-v1"
	}
	if err := validateKeyID(config.KeyID); err != nil {
		return nil, err
	}

	salt := config.Salt
	if len(salt) == 0 {
		salt = []byte(config.KeyID)
	}

	params := DefaultHashParams
	if config.HashParams != nil {
		params = *config.HashParams
	}

	return &HSMServer{
		keyID:      config.KeyID,
		signingKey: deriveKey(config.MasterKey, string(salt), 32),
		params:     params,
	}, nil
}

// GenerateCode returns a uniformly random numeric code of the given length.
func (h *HSMServer) GenerateCode(digits int) (string, error) {
	if digits < 4 || digits > 12 {
		return "", fmt.Errorf("code length %d out of range", digits)
	}
	code := make([]byte, digits)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

// HashCode hashes a code with a fresh random salt using Argon2id.
func (h *HSMServer) HashCode(code string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(code), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	// salt || hash
	result := make([]byte, len(salt)+len(hash))
	copy(result, salt)
	copy(result[len(salt):], hash)

	return base64.StdEncoding.EncodeToString(result), nil
}

// VerifyCode compares a candidate code against its stored hash in constant time.
func (h *HSMServer) VerifyCode(code, hashedCode string) (bool, error) {
	decoded, err := base64.StdEncoding.DecodeString(hashedCode)
	if err != nil {
		return false, fmt.Errorf("invalid code hash format: %w", err)
	}
	if len(decoded) <= saltLen {
		return false, errors.New("code hash too short")
	}

	salt := decoded[:saltLen]
	storedHash := decoded[saltLen:]

	inputHash := argon2.IDKey([]byte(code), salt, h.params.Time, h.params.Memory, h.params.Threads, uint32(len(storedHash)))

	return subtle.ConstantTimeCompare(inputHash, storedHash) == 1, nil
}

// SignPayout returns "<key id>:<hex hmac>" over the canonical JSON of p.
func (h *HSMServer) SignPayout(p *PayoutInstruction) (string, error) {
	if p.Nonce == "" {
		nonce := make([]byte, 12)
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("failed to generate nonce: %w", err)
		}
		p.Nonce = hex.EncodeToString(nonce)
	}

	mac, err := h.mac(p)
	if err != nil {
		return "", err
	}
	return h.keyID + ":" + hex.EncodeToString(mac), nil
}

func (h *HSMServer) VerifyPayout(p *PayoutInstruction, signature string) (bool, error) {
	prefix := h.keyID + ":"
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false, nil
	}
	got, err := hex.DecodeString(signature[len(prefix):])
	if err != nil {
		return false, nil
	}

	want, err := h.mac(p)
	if err != nil {
		return false, err
	}
	return hmac.Equal(got, want), nil
}

func (h *HSMServer) mac(p *PayoutInstruction) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payout: %w", err)
	}
	m := hmac.New(sha256.New, h.signingKey)
	m.Write(data)
	return m.Sum(nil), nil
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}

var validKeyID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateKeyID(keyID string) error {
	if !validKeyID.MatchString(keyID) {
		return errors.New("key ID contains invalid characters")
	}
	return nil
}
