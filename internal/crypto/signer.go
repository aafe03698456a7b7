package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-Peer-Address"
	HeaderTimestamp = "X-Peer-Timestamp"
	HeaderSignature = "X-Peer-Signature"
)

// ErrBadSignature is returned when a signature is malformed or was produced
// by a different key than claimed.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestMessage is the text a peer signs for one HTTP request:
//
//	METHOD \n PATH \n UNIX-SECONDS \n 0x<keccak256(body)>
func RequestMessage(method, path string, timestamp int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(hexutilEncode(ethcrypto.Keccak256(body)))
	return []byte(b.String())
}

// RequestDigest is the EIP-191 personal-sign hash of RequestMessage.
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	return accounts.TextHash(RequestMessage(method, path, timestamp, body))
}

// Signer signs peer requests with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the checksummed address of the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns the 0x-prefixed 65-byte signature for a request.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	return s.signDigest(RequestDigest(method, path, timestamp, body))
}

// signDigest signs a 32-byte digest and returns r || s || v with v in
// {27, 28}, the form wallets produce for personal_sign.
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return hexutilEncode(sig), nil
}

// Recover returns the address that produced sigHex over digest. Both
// {0,1} and {27,28} recovery bytes are accepted.
func Recover(digest []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: not hex", ErrBadSignature)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sig[64])
	}

	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex over the request was made by claimed.
func VerifyRequest(claimed common.Address, method, path string, timestamp int64, body []byte, sigHex string) error {
	got, err := Recover(RequestDigest(method, path, timestamp, body), sigHex)
	if err != nil {
		return err
	}
	if got != claimed {
		return fmt.Errorf("%w: signed by %s, claimed %s", ErrBadSignature, got.Hex(), claimed.Hex())
	}
	return nil
}

func hexutilEncode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
