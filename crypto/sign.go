package crypto

import (
	"errors"
	"strconv"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a request signature cannot be recovered.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// RequestDigest is the message signed by API callers: the HTTP method, the
// request path, the unix timestamp, the caller chosen nonce and the raw body.
// Fields are newline separated so a nonce cannot absorb part of the body.
func RequestDigest(method, path string, timestamp int64, nonce string, body []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(method),
		[]byte{'\n'},
		[]byte(path),
		[]byte{'\n'},
		[]byte(strconv.FormatInt(timestamp, 10)),
		[]byte{'\n'},
		[]byte(nonce),
		[]byte{'\n'},
		body,
	)
}

// SignRequest produces the 65-byte recoverable signature over the request digest.
func SignRequest(key *PrivateKey, method, path string, timestamp int64, nonce string, body []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return ethcrypto.Sign(RequestDigest(method, path, timestamp, nonce, body), key.PrivateKey)
}

// RecoverRequestSigner returns the raw identity that produced sig.
func RecoverRequestSigner(method, path string, timestamp int64, nonce string, body, sig []byte) ([20]byte, error) {
	var out [20]byte
	if len(sig) != 65 {
		return out, ErrInvalidSignature
	}
	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, timestamp, nonce, body), sig)
	if err != nil {
		return out, ErrInvalidSignature
	}
	return (&PublicKey{PublicKey: pub}).Identity(), nil
}
