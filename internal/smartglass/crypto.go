package smartglass

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
)

// Key material sizes.
const (
	aesKeySize  = 16
	ivKeySize   = 16
	hmacKeySize = 32
	macSize     = sha256.Size

	// publicKeySize is an uncompressed P-256 point without its 0x04 prefix.
	publicKeySize = 64
)

// Salts wrapped around the shared secret before hashing.
var (
	kdfPrepend = []byte{0xD6, 0x37, 0xF1, 0xAA, 0xE2, 0xF0, 0x41, 0x8C}
	kdfAppend  = []byte{0xA8, 0xF8, 0x1A, 0x57, 0x4E, 0x22, 0x8A, 0xB7}
)

// cryptoContext holds the per-connection symmetric keys.
type cryptoContext struct {
	payload cipher.Block
	ivGen   cipher.Block
	hmacKey []byte
}

// keyExchange generates an ephemeral P-256 key, agrees a secret with the
// console's certificate key and derives the session keys.
// It returns the client's public key for the connect request.
func keyExchange(consolePublic *ecdh.PublicKey) ([]byte, *cryptoContext, error) {
	if consolePublic == nil || consolePublic.Curve() != ecdh.P256() {
		return nil, nil, errors.New("console public key: not a P-256 key")
	}
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	secret, err := priv.ECDH(consolePublic)
	if err != nil {
		return nil, nil, fmt.Errorf("ecdh: %w", err)
	}
	cc, err := deriveCrypto(secret)
	if err != nil {
		return nil, nil, err
	}
	return rawPublicKey(priv.PublicKey()), cc, nil
}

// rawPublicKey strips the uncompressed-point prefix from a P-256 key.
func rawPublicKey(pub *ecdh.PublicKey) []byte {
	return pub.Bytes()[1:]
}

// parseRawPublicKey restores a 64-byte X||Y point to a P-256 key.
func parseRawPublicKey(b []byte) (*ecdh.PublicKey, error) {
	if len(b) != publicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrInvalidPacket, len(b))
	}
	return ecdh.P256().NewPublicKey(append([]byte{0x04}, b...))
}

// deriveCrypto splits SHA-512(prepend || secret || append) into the AES,
// IV and HMAC keys.
func deriveCrypto(secret []byte) (*cryptoContext, error) {
	h := sha512.New()
	h.Write(kdfPrepend)
	h.Write(secret)
	h.Write(kdfAppend)
	material := h.Sum(nil)

	payload, err := aes.NewCipher(material[:aesKeySize])
	if err != nil {
		return nil, fmt.Errorf("payload cipher: %w", err)
	}
	ivGen, err := aes.NewCipher(material[aesKeySize : aesKeySize+ivKeySize])
	if err != nil {
		return nil, fmt.Errorf("iv cipher: %w", err)
	}
	return &cryptoContext{
		payload: payload,
		ivGen:   ivGen,
		hmacKey: material[aesKeySize+ivKeySize : aesKeySize+ivKeySize+hmacKeySize],
	}, nil
}

// messageIV derives the CBC IV for a message from its first header block.
func (c *cryptoContext) messageIV(header []byte) []byte {
	iv := make([]byte, aes.BlockSize)
	c.ivGen.Encrypt(iv, header[:aes.BlockSize])
	return iv
}

// encrypt pads and CBC-encrypts plain.
func (c *cryptoContext) encrypt(iv, plain []byte) []byte {
	padded := pad(plain)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.payload, iv).CryptBlocks(out, padded)
	return out
}

// decrypt CBC-decrypts and truncates to plainLen.
func (c *cryptoContext) decrypt(iv, data []byte, plainLen int) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrInvalidPacket, len(data))
	}
	if plainLen > len(data) {
		return nil, fmt.Errorf("%w: plaintext length %d exceeds ciphertext", ErrInvalidPacket, plainLen)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.payload, iv).CryptBlocks(out, data)
	return out[:plainLen], nil
}

func (c *cryptoContext) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func (c *cryptoContext) verify(data, sum []byte) bool {
	return hmac.Equal(c.sign(data), sum)
}

// pad fills b to the block size with PKCS#7 bytes. Aligned input is left
// as is; the receiver truncates to the length in the header.
func pad(b []byte) []byte {
	n := (aes.BlockSize - len(b)%aes.BlockSize) % aes.BlockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	for range n {
		out = append(out, byte(n))
	}
	return out
}

// sealMessage encrypts and signs a message frame.
func (c *cryptoContext) sealMessage(m *Message) []byte {
	header := encodeMessageHeader(m, len(m.Payload))
	body := c.encrypt(c.messageIV(header), m.Payload)
	frame := append(header, body...)
	return append(frame, c.sign(frame)...)
}

// openMessage verifies and decrypts a message frame.
func (c *cryptoContext) openMessage(b []byte) (*Message, error) {
	if len(b) < messageHeaderSize+macSize {
		return nil, fmt.Errorf("%w: short message (%d bytes)", ErrInvalidPacket, len(b))
	}
	signed, sum := b[:len(b)-macSize], b[len(b)-macSize:]
	if !c.verify(signed, sum) {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidPacket)
	}
	m, plainLen, err := decodeMessageHeader(signed)
	if err != nil {
		return nil, err
	}
	header := signed[:messageHeaderSize]
	plain, err := c.decrypt(c.messageIV(header), signed[messageHeaderSize:], plainLen)
	if err != nil {
		return nil, err
	}
	m.Payload = plain
	return m, nil
}

// sealConnect frames a connect packet: header, unprotected part, encrypted
// protected part, signature.
func (c *cryptoContext) sealConnect(t packetType, unprotected, protected, iv []byte) []byte {
	header := make([]byte, connectHeaderSize)
	putConnectHeader(header, t, len(unprotected), len(protected))
	frame := append(header, unprotected...)
	frame = append(frame, c.encrypt(iv, protected)...)
	return append(frame, c.sign(frame)...)
}

// openConnect verifies a connect packet and splits it into its unprotected
// bytes and the still-encrypted protected part with its plaintext length.
func (c *cryptoContext) openConnect(b []byte, want packetType) (unprotected, encrypted []byte, plainLen int, err error) {
	if len(b) < connectHeaderSize+macSize {
		return nil, nil, 0, fmt.Errorf("%w: short connect packet", ErrInvalidPacket)
	}
	signed, sum := b[:len(b)-macSize], b[len(b)-macSize:]
	if peekType(signed) != want {
		return nil, nil, 0, fmt.Errorf("%w: unexpected packet type 0x%04X", ErrInvalidPacket, uint16(peekType(signed)))
	}
	if !c.verify(signed, sum) {
		return nil, nil, 0, fmt.Errorf("%w: bad signature", ErrInvalidPacket)
	}
	unprotLen, protLen := connectLengths(signed)
	if connectHeaderSize+unprotLen > len(signed) {
		return nil, nil, 0, fmt.Errorf("%w: unprotected length %d exceeds packet", ErrInvalidPacket, unprotLen)
	}
	return signed[connectHeaderSize : connectHeaderSize+unprotLen], signed[connectHeaderSize+unprotLen:], protLen, nil
}

func randomIV() ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("random iv: %w", err)
	}
	return iv, nil
}
