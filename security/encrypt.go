package security

import (
	"crypto/md5"
	"crypto/rand"
	"fmt"

	"github.com/wudi/pdfdoc/object"
)

// PermissionsValue builds the P flags for the standard security handler.
// Reserved bits are set, so the value is negative.
func PermissionsValue(p Permissions) int32 {
	val := int32(-4)
	if !p.Print {
		val &^= 1 << 2
	}
	if !p.Modify {
		val &^= 1 << 3
	}
	if !p.Copy {
		val &^= 1 << 4
	}
	if !p.ModifyAnnotations {
		val &^= 1 << 5
	}
	if !p.FillForms {
		val &^= 1 << 8
	}
	if !p.ExtractAccessible {
		val &^= 1 << 9
	}
	if !p.Assemble {
		val &^= 1 << 10
	}
	if !p.PrintHighQuality {
		val &^= 1 << 11
	}
	return val
}

// BuildStandardEncryption constructs an Encrypt dictionary for the
// standard security handler. Revisions 2 (RC4 40-bit), 3 (RC4 128-bit),
// 4 (AES-128) and 6 (AES-256) are supported. An empty owner password
// falls back to the user password.
func BuildStandardEncryption(userPwd, ownerPwd string, perms Permissions, fileID []byte, revision int, encryptMetadata bool) (*object.DictObj, error) {
	if ownerPwd == "" {
		ownerPwd = userPwd
	}
	if ownerPwd == "" {
		ownerPwd = "owner"
	}
	p := PermissionsValue(perms)

	enc := object.Dict()
	enc.Set(object.NameLiteral("Filter"), object.NameLiteral("Standard"))
	enc.Set(object.NameLiteral("R"), object.NumberInt(int64(revision)))
	enc.Set(object.NameLiteral("P"), object.NumberInt(int64(p)))
	if !encryptMetadata {
		enc.Set(object.NameLiteral("EncryptMetadata"), object.Bool(false))
	}

	switch revision {
	case 2, 3, 4:
		keyLen, bits, v := 5, int64(40), int64(1)
		if revision >= 3 {
			keyLen, bits, v = 16, 128, 2
		}
		if revision == 4 {
			v = 4
		}
		o := computeOwnerValue([]byte(ownerPwd), []byte(userPwd), keyLen, revision)
		fileKey := legacyFileKey([]byte(userPwd), o, p, fileID, keyLen, revision, encryptMetadata)
		u := expectedUserValue(fileKey, fileID, revision)
		if len(u) < 32 {
			u = append(u, make([]byte, 32-len(u))...)
		}
		enc.Set(object.NameLiteral("V"), object.NumberInt(v))
		enc.Set(object.NameLiteral("Length"), object.NumberInt(bits))
		enc.Set(object.NameLiteral("O"), object.Str(o))
		enc.Set(object.NameLiteral("U"), object.Str(u))
		if revision == 4 {
			setStdCryptFilter(enc, "AESV2", 16)
		}
		return enc, nil

	case 6:
		fileKey := make([]byte, 32)
		if _, err := rand.Read(fileKey); err != nil {
			return nil, err
		}
		user := prepUTF8Password([]byte(userPwd))
		owner := prepUTF8Password([]byte(ownerPwd))

		u, ue, err := buildRev6Entry(user, fileKey, nil)
		if err != nil {
			return nil, err
		}
		o, oe, err := buildRev6Entry(owner, fileKey, u)
		if err != nil {
			return nil, err
		}
		permsBlob, err := buildRev6Perms(fileKey, p, encryptMetadata)
		if err != nil {
			return nil, err
		}
		enc.Set(object.NameLiteral("V"), object.NumberInt(5))
		enc.Set(object.NameLiteral("Length"), object.NumberInt(256))
		enc.Set(object.NameLiteral("O"), object.Str(o))
		enc.Set(object.NameLiteral("U"), object.Str(u))
		enc.Set(object.NameLiteral("OE"), object.Str(oe))
		enc.Set(object.NameLiteral("UE"), object.Str(ue))
		enc.Set(object.NameLiteral("Perms"), object.Str(permsBlob))
		setStdCryptFilter(enc, "AESV3", 32)
		return enc, nil
	}
	return nil, fmt.Errorf("%w: revision %d", ErrUnsupportedEncryption, revision)
}

func setStdCryptFilter(enc *object.DictObj, method string, keyBytes int64) {
	cfEntry := object.Dict()
	cfEntry.Set(object.NameLiteral("Type"), object.NameLiteral("CryptFilter"))
	cfEntry.Set(object.NameLiteral("CFM"), object.NameLiteral(method))
	cfEntry.Set(object.NameLiteral("AuthEvent"), object.NameLiteral("DocOpen"))
	cfEntry.Set(object.NameLiteral("Length"), object.NumberInt(keyBytes))
	cf := object.Dict()
	cf.Set(object.NameLiteral("StdCF"), cfEntry)
	enc.Set(object.NameLiteral("CF"), cf)
	enc.Set(object.NameLiteral("StmF"), object.NameLiteral("StdCF"))
	enc.Set(object.NameLiteral("StrF"), object.NameLiteral("StdCF"))
}

// computeOwnerValue runs the O entry computation: the padded user
// password encrypted under the key derived from the owner password.
func computeOwnerValue(ownerPwd, userPwd []byte, keyLen, r int) []byte {
	sum := md5.Sum(padPassword(ownerPwd))
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key[:keyLen])
			key = sum[:]
		}
	}
	key = key[:keyLen]
	val := padPassword(userPwd)
	if r == 2 {
		return rc4Apply(key, val)
	}
	for i := 0; i <= 19; i++ {
		val = rc4Apply(xorKey(key, byte(i)), val)
	}
	return val
}

// buildRev6Entry produces a U or O entry plus its UE/OE key blob. udata
// is nil for the user entry and the 48-byte U entry for the owner one.
func buildRev6Entry(pwd, fileKey, udata []byte) (entry, wrapped []byte, err error) {
	salts := make([]byte, 16)
	if _, err := rand.Read(salts); err != nil {
		return nil, nil, err
	}
	valSalt, keySalt := salts[:8], salts[8:]
	entry = make([]byte, 0, 48)
	entry = append(entry, hashR6(pwd, valSalt, udata)...)
	entry = append(entry, valSalt...)
	entry = append(entry, keySalt...)
	wrapped, err = aesCBCEncryptNoPad(hashR6(pwd, keySalt, udata), fileKey)
	if err != nil {
		return nil, nil, err
	}
	return entry, wrapped, nil
}

func buildRev6Perms(fileKey []byte, p int32, encryptMetadata bool) ([]byte, error) {
	blob := make([]byte, 16)
	blob[0] = byte(p)
	blob[1] = byte(p >> 8)
	blob[2] = byte(p >> 16)
	blob[3] = byte(p >> 24)
	blob[4], blob[5], blob[6], blob[7] = 0xFF, 0xFF, 0xFF, 0xFF
	blob[8] = 'F'
	if encryptMetadata {
		blob[8] = 'T'
	}
	blob[9], blob[10], blob[11] = 'a', 'd', 'b'
	if _, err := rand.Read(blob[12:]); err != nil {
		return nil, err
	}
	return aesECBEncryptBlock(fileKey, blob)
}
