package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"golang.org/x/text/secure/precis"
)

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// prepUTF8Password normalizes an AES-256 password per the OpaqueString
// profile and truncates it to 127 bytes. Input that fails the profile
// (the empty password included) is used as-is.
func prepUTF8Password(pwd []byte) []byte {
	if out, err := precis.OpaqueString.Bytes(pwd); err == nil {
		pwd = out
	}
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	return pwd
}

// legacyFileKey derives the RC4/AES-128 file key from a password for
// revisions 2 through 4. pwd may already be a padded 32-byte value
// recovered from the owner entry.
func legacyFileKey(pwd, oEntry []byte, p int32, fileID []byte, keyLen, r int, encryptMeta bool) []byte {
	if keyLen <= 0 {
		keyLen = 5
	}
	if keyLen > 16 {
		keyLen = 16
	}
	if len(oEntry) > 32 {
		oEntry = oEntry[:32]
	}
	data := make([]byte, 0, 72+len(fileID))
	data = append(data, padPassword(pwd)...)
	data = append(data, oEntry...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(p))
	data = append(data, pBuf[:]...)
	data = append(data, fileID...)
	if r >= 4 && !encryptMeta {
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	sum := md5.Sum(data)
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	return key[:keyLen]
}

// expectedUserValue computes the U entry that a given file key would
// produce: 32 defined bytes for revision 2, 16 for revision 3 and 4.
func expectedUserValue(fileKey, fileID []byte, r int) []byte {
	if r == 2 {
		return rc4Apply(fileKey, passwordPadding)
	}
	data := make([]byte, 0, 32+len(fileID))
	data = append(data, passwordPadding...)
	data = append(data, fileID...)
	sum := md5.Sum(data)
	val := sum[:]
	for i := 0; i < 20; i++ {
		val = rc4Apply(xorKey(fileKey, byte(i)), val)
	}
	return val
}

// recoverUserPassword reverses the O entry computation: decrypting O
// with the key derived from the owner password yields the padded user
// password.
func recoverUserPassword(ownerPwd, oEntry []byte, keyLen, r int) []byte {
	if keyLen <= 0 {
		keyLen = 5
	}
	if keyLen > 16 {
		keyLen = 16
	}
	sum := md5.Sum(padPassword(ownerPwd))
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	key = key[:keyLen]

	val := make([]byte, 32)
	copy(val, oEntry)
	if r == 2 {
		return rc4Apply(key, val)
	}
	for i := 19; i >= 0; i-- {
		val = rc4Apply(xorKey(key, byte(i)), val)
	}
	return val
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

// hashR5 is the single-pass SHA-256 password hash of the interim
// AES-256 scheme (revision 5).
func hashR5(pwd, salt, udata []byte) []byte {
	data := make([]byte, 0, len(pwd)+len(salt)+len(udata))
	data = append(data, pwd...)
	data = append(data, salt...)
	data = append(data, udata...)
	sum := sha256.Sum256(data)
	return sum[:]
}

// hashR6 is the hardened revision 6 hash: an AES-CBC feedback loop over
// SHA-256/384/512 that runs at least 64 rounds and stops once the last
// encrypted byte falls under the round-dependent threshold.
func hashR6(pwd, salt, udata []byte) []byte {
	sum := sha256.Sum256(concat(pwd, salt, udata))
	k := sum[:]
	for i := 0; ; i++ {
		one := concat(pwd, k, udata)
		k1 := make([]byte, 0, len(one)*64)
		for j := 0; j < 64; j++ {
			k1 = append(k1, one...)
		}
		block, err := aes.NewCipher(k[:16])
		if err != nil {
			return k[:32]
		}
		e := make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		mod := 0
		for _, b := range e[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
		if i >= 63 && int(e[len(e)-1]) <= i-31 {
			break
		}
	}
	return k[:32]
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// objectKey derives the per-object key. Revisions 5 and 6 use the file
// key directly; earlier revisions mix in the object number and
// generation, with an extra salt for AES.
func objectKey(fileKey []byte, objNum, gen, r int, useAES bool) []byte {
	if r >= 5 {
		return fileKey
	}
	data := make([]byte, 0, len(fileKey)+9)
	data = append(data, fileKey...)
	data = append(data,
		byte(objNum), byte(objNum>>8), byte(objNum>>16),
		byte(gen), byte(gen>>8))
	if useAES {
		data = append(data, 0x73, 0x41, 0x6C, 0x54)
	}
	sum := md5.Sum(data)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func rc4Apply(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

// aesDecryptIVPrefixed decrypts CBC data carrying its IV in the first
// block, stripping the trailing padding.
func aesDecryptIVPrefixed(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) < aes.BlockSize {
		return nil, errors.New("aes ciphertext too short")
	}
	iv := data[:aes.BlockSize]
	ct := data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, errors.New("aes ciphertext not a multiple of the block size")
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

func aesEncryptIVPrefixed(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	plain := make([]byte, 0, len(data)+padLen)
	plain = append(plain, data...)
	plain = append(plain, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	out := make([]byte, aes.BlockSize+len(plain))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)
	return out, nil
}

// aesCBCDecryptNoPad unwraps the UE/OE key blobs: zero IV, no padding.
func aesCBCDecryptNoPad(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("aes data not a multiple of the block size")
	}
	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCEncryptNoPad(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("aes data not a multiple of the block size")
	}
	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesECBEncryptBlock(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) != aes.BlockSize {
		return nil, errors.New("aes block must be 16 bytes")
	}
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, data)
	return out, nil
}

func aesECBDecryptBlock(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) != aes.BlockSize {
		return nil, errors.New("aes block must be 16 bytes")
	}
	out := make([]byte, aes.BlockSize)
	block.Decrypt(out, data)
	return out, nil
}
