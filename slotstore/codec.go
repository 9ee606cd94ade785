package slotstore

import (
	"bytes"
	"compress/zlib"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/mds/mbits"
	"github.com/creachadair/otpslot/record"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// JSON is a Codec that stores a record as plain JSON.
type JSON struct{}

// Encode implements part of Codec.
func (JSON) Encode(r record.Record) ([]byte, error) { return json.Marshal(r) }

// Decode implements part of Codec.
func (JSON) Decode(data []byte) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// Format is the storage format label written by the Sealed codec.
const Format = "os1"

// keyLen is the length in bytes of access and data keys.
const keyLen = chacha20poly1305.KeySize // 32 bytes

// Sealed is a Codec that encrypts a record with a key derived from a
// passphrase. Its output is a JSON object in this layout:
//
//	{
//	   "format":  "os1",
//	   "dataKey": "<base64-encoded-data-key>",
//	   "data":    "<base64-encoded-data>",
//	   "keySalt": "<base64-encoded-key-salt>"
//	}
//
// The record is encoded as JSON, zlib-compressed, and encrypted with a
// randomly-generated data key using the AEAD construction over
// XChaCha20-Poly1305 with the format label as extra data. The data key is
// itself encrypted with an access key derived from the passphrase and the
// key salt using HKDF-SHA256.
//
// A fresh salt and data key are generated on every Encode.
type Sealed struct {
	passphrase string
}

// NewSealed returns a Sealed codec using the given passphrase.
func NewSealed(passphrase string) Sealed { return Sealed{passphrase: passphrase} }

// sealedJSON is the JSON structure used to persist a sealed record.
type sealedJSON struct {
	Format  string `json:"format"`  // currently slotstore.Format (os1)
	DataKey []byte `json:"dataKey"` // encrypted with the access key
	Data    []byte `json:"data"`    // encrypted with the data key
	KeySalt []byte `json:"keySalt"` // access key derivation salt
}

// Encode implements part of Codec.
func (s Sealed) Encode(r record.Record) ([]byte, error) {
	salt := make([]byte, keyLen)
	if _, err := crand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate key salt: %w", err)
	}
	accessKey := s.accessKey(salt)
	defer mbits.Zero(accessKey)

	dataKey, encKey, err := generateAndEncryptKey(accessKey)
	if err != nil {
		return nil, fmt.Errorf("data key: %w", err)
	}
	defer mbits.Zero(dataKey)

	plain, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	encData, err := encryptWithKey(dataKey, compressData(plain), []byte(Format))
	mbits.Zero(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt data: %w", err)
	}
	return json.Marshal(sealedJSON{
		Format:  Format,
		DataKey: encKey, // N.B. do not persist the plaintext
		Data:    encData,
		KeySalt: salt,
	})
}

// Decode implements part of Codec.
func (s Sealed) Decode(raw []byte) (record.Record, error) {
	var env sealedJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return record.Record{}, fmt.Errorf("decode envelope: %w", err)
	}
	accessKey := s.accessKey(env.KeySalt)
	defer mbits.Zero(accessKey)

	dataKey, err := decryptWithKey(accessKey, env.DataKey, nil)
	if err != nil {
		return record.Record{}, fmt.Errorf("decrypt data key: %w", err)
	}
	defer mbits.Zero(dataKey)

	// The format label is authenticated as extra data, so a mismatch fails here.
	data, err := decryptWithKey(dataKey, env.Data, []byte(env.Format))
	if err != nil {
		return record.Record{}, fmt.Errorf("decrypt data: %w", err)
	} else if env.Format != Format {
		return record.Record{}, fmt.Errorf("unsupported format %q", env.Format)
	}
	plain, err := decompressData(data)
	mbits.Zero(data)
	if err != nil {
		return record.Record{}, fmt.Errorf("decompress data: %w", err)
	}
	defer mbits.Zero(plain)

	var r record.Record
	if err := json.Unmarshal(plain, &r); err != nil {
		return record.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func (s Sealed) accessKey(salt []byte) []byte {
	h := hkdf.New(sha256.New, []byte(s.passphrase), salt, nil)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(h, key); err != nil {
		panic(fmt.Sprintf("derive key: %v", err))
	}
	return key
}

func decryptWithKey(key, data, extra []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initialize decryption key: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return nil, errors.New("malformed input: short nonce")
	}
	nonce, ctext := data[:aead.NonceSize()], data[aead.NonceSize():]
	return aead.Open(nil, nonce, ctext, extra)
}

func encryptWithKey(key, data, extra []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("initialize encryption key: %w", err)
	}
	buf := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := crand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(buf, buf, data, extra), nil
}

func generateAndEncryptKey(accessKey []byte) (plain, encrypted []byte, _ error) {
	pkey := make([]byte, keyLen)
	if _, err := crand.Read(pkey); err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	ekey, err := encryptWithKey(accessKey, pkey, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt key: %w", err)
	}
	return pkey, ekey, nil
}

func compressData(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data)
	if err := w.Close(); err != nil {
		panic(fmt.Sprintf("zlib close: %v", err))
	}
	return buf.Bytes()
}

func decompressData(data []byte) ([]byte, error) {
	rc, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
