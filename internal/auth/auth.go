package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const (
	DefaultChallengeLen = 50
	DefaultAdminToken   = "admin"
	DefaultAdminAddress = "0xBB5eb03535FA2bCFe9FE3BBb0F9cC48385818d92"

	sigLen = 65
)

var (
	ErrBadSignature  = errors.New("auth: bad signature")
	ErrEmptyResponse = errors.New("auth: empty handshake response")
)

// Recoverer turns a signed challenge into the signer's address.
type Recoverer interface {
	Recover(challenge, signature string) (address string, err error)
}

// EthRecoverer recovers addresses from Ethereum personal_sign signatures:
// hex r||s||v over the prefixed challenge.
type EthRecoverer struct{}

func (EthRecoverer) Recover(challenge, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != sigLen {
		return "", fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}
	compact := make([]byte, sigLen)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, personalHash(challenge))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return PubKeyToAddress(pub), nil
}

// SignChallenge produces the signature a wallet's personal_sign would.
func SignChallenge(priv *secp256k1.PrivateKey, challenge string) string {
	compact := ecdsa.SignCompact(priv, personalHash(challenge), false)
	sig := make([]byte, sigLen)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

func personalHash(msg string) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return h.Sum(nil)
}

func PubKeyToAddress(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return ChecksumAddress(hex.EncodeToString(h.Sum(nil)[12:]))
}

// ChecksumAddress applies EIP-55 mixed-case checksumming to a hex address.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && sum[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

const alphanumerics = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewChallenge returns n uniformly random alphanumeric characters.
func NewChallenge(n int) (string, error) {
	const limit = 256 - 256%len(alphanumerics)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphanumerics[int(b)%len(alphanumerics)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// AdminRole is the administrative identity. It is granted at most once per
// process.
type AdminRole struct {
	token   string
	address string
	claimed atomic.Bool
}

func NewAdminRole(token, address string) *AdminRole {
	return &AdminRole{token: token, address: address}
}

func (a *AdminRole) Address() string { return a.address }

// Claim grants the admin address to the first response equal to the token.
func (a *AdminRole) Claim(response string) (string, bool) {
	if a == nil || a.token == "" || response != a.token {
		return "", false
	}
	if !a.claimed.CompareAndSwap(false, true) {
		return "", false
	}
	return a.address, true
}

func (a *AdminRole) Claimed() bool { return a != nil && a.claimed.Load() }

// Verifier resolves a handshake response to an authenticated address.
type Verifier struct {
	Admin     *AdminRole
	Recoverer Recoverer
}

func (v *Verifier) Verify(challenge, response string) (string, error) {
	response = strings.TrimRight(response, "\r\n")
	if response == "" {
		return "", ErrEmptyResponse
	}
	if addr, ok := v.Admin.Claim(response); ok {
		return addr, nil
	}
	return v.Recoverer.Recover(challenge, response)
}
