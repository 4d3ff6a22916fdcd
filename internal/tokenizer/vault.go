package tokenizer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/familyfund/backend/internal/models"
)

const tokenPrefix = "tok_"

var ErrUnknownToken = errors.New("token not recognized")

// CardInfo is what a sealed token reveals to its issuer. It never includes the
// full number or the CVV.
type CardInfo struct {
	Last4       string    `json:"last4"`
	Expiry      string    `json:"expiry"`
	Fingerprint string    `json:"fingerprint"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// Vault is a self-contained tokenizer for development and tests. Tokens are
// AES-GCM sealed CardInfo blobs under a key derived with Argon2id, so a token
// can be inspected later without storing anything.
type Vault struct {
	key []byte
	now func() time.Time
}

// VaultConfig holds the key material.
type VaultConfig struct {
	Secret string
	Salt   string
}

func NewVault(cfg VaultConfig) (*Vault, error) {
	if cfg.Secret == "" {
		return nil, errors.New("vault secret required")
	}
	salt := cfg.Salt
	if salt == "" {
		salt = "family-fund-vault"
	}
	return &Vault{
		key: deriveKey(cfg.Secret, salt, 32),
		now: time.Now,
	}, nil
}

func (v *Vault) Tokenize(ctx context.Context, card CardDetails) (models.CardToken, error) {
	defer card.Wipe()

	if err := ctx.Err(); err != nil {
		return models.CardToken{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if err := Validate(card, v.now()); err != nil {
		return models.CardToken{}, err
	}

	number := NormalizeNumber(card.Number)
	expiry := NormalizeExpiry(card.Expiry)
	info := CardInfo{
		Last4:       number[len(number)-4:],
		Expiry:      expiry,
		Fingerprint: v.fingerprint(number),
		IssuedAt:    v.now().UTC(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return models.CardToken{}, fmt.Errorf("failed to marshal card info: %w", err)
	}
	sealed, err := v.seal(data)
	if err != nil {
		return models.CardToken{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return models.CardToken{
		Token:        tokenPrefix + base64.RawURLEncoding.EncodeToString(sealed),
		MaskedNumber: Mask(number),
		Expiry:       expiry,
	}, nil
}

// Inspect opens a token issued by this vault.
func (v *Vault) Inspect(token string) (*CardInfo, error) {
	raw, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return nil, ErrUnknownToken
	}
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownToken, err)
	}
	data, err := v.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownToken, err)
	}

	var info CardInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownToken, err)
	}
	return &info, nil
}

// Last4 adapts Inspect to gateway.CardResolver.
func (v *Vault) Last4(token string) (string, error) {
	info, err := v.Inspect(token)
	if err != nil {
		return "", err
	}
	return info.Last4, nil
}

// fingerprint identifies a card number across tokens without revealing it.
func (v *Vault) fingerprint(number string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(number))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

func (v *Vault) seal(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (v *Vault) open(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}
