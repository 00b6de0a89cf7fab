package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// ivSize matches the AES block size: every encrypted frame is prefixed with
// a fresh random IV of this length.
const ivSize = aes.BlockSize

var errCiphertextTooShort = errors.New("session: ciphertext shorter than IV")

// randomBytes returns n cryptographically random bytes, used both for the
// per-message IV and for the RAN challenge payload.
func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// encrypt returns a fresh random IV followed by plaintext encrypted under
// key with AES-CFB.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv, err := randomBytes(ivSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, ivSize+len(plaintext))
	copy(out, iv)

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(out[ivSize:], plaintext)

	return out, nil
}

// decrypt reverses encrypt: it strips the leading IV and decrypts the
// remainder under key with AES-CFB.
func decrypt(key, data []byte) ([]byte, error) {
	if len(data) < ivSize {
		return nil, errCiphertextTooShort
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := data[:ivSize]
	ciphertext := data[ivSize:]

	out := make([]byte, len(ciphertext))
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(out, ciphertext)

	return out, nil
}
