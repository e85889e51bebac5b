package security

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wudi/pdfdoc/object"
)

var (
	// ErrInvalidPassword reports that neither the user nor the owner
	// password matched the document's password entries.
	ErrInvalidPassword = errors.New("security: invalid password")

	// ErrUnsupportedEncryption reports an encryption scheme outside the
	// standard security handler revisions 2 through 6.
	ErrUnsupportedEncryption = errors.New("security: unsupported encryption")
)

// Permissions are the access flags carried by the P entry of the
// standard security handler.
type Permissions struct {
	Print             bool
	Modify            bool
	Copy              bool
	ModifyAnnotations bool
	FillForms         bool
	ExtractAccessible bool
	Assemble          bool
	PrintHighQuality  bool
}

// AllPermissions is the unencrypted-file default: everything allowed.
func AllPermissions() Permissions {
	return Permissions{
		Print: true, Modify: true, Copy: true, ModifyAnnotations: true,
		FillForms: true, ExtractAccessible: true, Assemble: true,
		PrintHighQuality: true,
	}
}

// DataClass identifies the kind of payload being encrypted or decrypted.
// Strings and streams may use different crypt filters, and metadata
// streams stay plaintext when EncryptMetadata is false.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	EncryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
}

// HandlerBuilder assembles a Handler from the document's Encrypt
// dictionary. A nil Encrypt dictionary yields the pass-through handler.
type HandlerBuilder struct {
	encryptDict object.Dictionary
	trailer     object.Dictionary
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d object.Dictionary) *HandlerBuilder {
	b.encryptDict = d
	return b
}

func (b *HandlerBuilder) WithTrailer(d object.Dictionary) *HandlerBuilder {
	b.trailer = d
	return b
}

func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder {
	b.fileID = id
	return b
}

func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encryptDict == nil {
		return noEncryptionHandler{}, nil
	}
	if name := nameVal(b.encryptDict, "Filter"); name != "" && name != "Standard" {
		return nil, fmt.Errorf("%w: security handler %q", ErrUnsupportedEncryption, name)
	}

	v := int64(1)
	if n, ok := numberVal(b.encryptDict, "V"); ok && n > 0 {
		v = n
	}
	r, hasR := numberVal(b.encryptDict, "R")
	if !hasR {
		switch {
		case v >= 5:
			r = 6
		case v == 4:
			r = 4
		default:
			r = 2
		}
	}
	if r < 2 || r > 6 || v > 5 {
		return nil, fmt.Errorf("%w: V=%d R=%d", ErrUnsupportedEncryption, v, r)
	}

	keyLen := 40
	if v >= 5 {
		keyLen = 256
	}
	if n, ok := numberVal(b.encryptDict, "Length"); ok && n > 0 {
		keyLen = int(n)
	}
	if v >= 4 && v < 5 && keyLen < 128 {
		keyLen = 128
	}
	if keyLen%8 != 0 || keyLen < 40 || keyLen > 256 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupportedEncryption, keyLen)
	}

	owner, _ := stringBytes(b.encryptDict, "O")
	user, _ := stringBytes(b.encryptDict, "U")
	minEntry := 32
	if r >= 5 {
		minEntry = 48
	}
	if len(owner) < minEntry || len(user) < minEntry {
		return nil, fmt.Errorf("%w: malformed O/U entries", ErrUnsupportedEncryption)
	}

	h := &standardHandler{
		v:           int(v),
		r:           int(r),
		lengthBits:  keyLen,
		oEntry:      owner,
		uEntry:      user,
		encryptMeta: true,
	}
	h.oe, _ = stringBytes(b.encryptDict, "OE")
	h.ue, _ = stringBytes(b.encryptDict, "UE")
	h.permsEntry, _ = stringBytes(b.encryptDict, "Perms")
	if p, ok := numberVal(b.encryptDict, "P"); ok {
		h.p = int32(p)
	}
	if em, ok := boolVal(b.encryptDict, "EncryptMetadata"); ok {
		h.encryptMeta = em
	}

	h.fileID = b.fileID
	if len(h.fileID) == 0 && b.trailer != nil {
		h.fileID = firstFileID(b.trailer)
	}

	baseAlgo := algoRC4
	if v >= 4 {
		baseAlgo = algoAES
	}
	filters, err := parseCryptFilters(b.encryptDict, baseAlgo)
	if err != nil {
		return nil, err
	}
	h.cryptFilters = filters
	// With crypt filters in play a missing StmF/StrF means Identity;
	// before V4 everything runs through the base algorithm.
	def := baseAlgo
	if v >= 4 {
		def = algoNone
	}
	if h.streamAlgo, err = resolveCryptFilter(b.encryptDict, "StmF", def, filters); err != nil {
		return nil, err
	}
	if h.stringAlgo, err = resolveCryptFilter(b.encryptDict, "StrF", def, filters); err != nil {
		return nil, err
	}
	return h, nil
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
)

type standardHandler struct {
	key          []byte
	v            int
	r            int
	lengthBits   int
	oEntry       []byte
	uEntry       []byte
	oe           []byte
	ue           []byte
	permsEntry   []byte
	p            int32
	fileID       []byte
	encryptMeta  bool
	authed       bool
	streamAlgo   cryptAlgo
	stringAlgo   cryptAlgo
	cryptFilters map[string]cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.encryptMeta }

// Authenticate validates password against the user entry first and the
// owner entry second, deriving the file key on success. The empty
// string probes for documents that open without a password.
func (h *standardHandler) Authenticate(password string) error {
	if h.r >= 5 {
		if err := h.authenticateAES256([]byte(password)); err != nil {
			return err
		}
		h.authed = true
		return nil
	}
	if err := h.authenticateLegacy([]byte(password)); err != nil {
		return err
	}
	h.authed = true
	return nil
}

func (h *standardHandler) authenticateLegacy(pwd []byte) error {
	keyLen := h.lengthBits / 8
	key := legacyFileKey(pwd, h.oEntry, h.p, h.fileID, keyLen, h.r, h.encryptMeta)
	if h.matchesUserEntry(key) {
		h.key = key
		return nil
	}
	recovered := recoverUserPassword(pwd, h.oEntry, keyLen, h.r)
	key = legacyFileKey(recovered, h.oEntry, h.p, h.fileID, keyLen, h.r, h.encryptMeta)
	if h.matchesUserEntry(key) {
		h.key = key
		return nil
	}
	return ErrInvalidPassword
}

func (h *standardHandler) matchesUserEntry(fileKey []byte) bool {
	expect := expectedUserValue(fileKey, h.fileID, h.r)
	// Revision 2 defines all 32 bytes of U; later revisions only the
	// first 16, the rest is arbitrary padding.
	n := 16
	if h.r == 2 {
		n = 32
	}
	if len(h.uEntry) < n || len(expect) < n {
		return false
	}
	return bytes.Equal(expect[:n], h.uEntry[:n])
}

func (h *standardHandler) authenticateAES256(pwd []byte) error {
	pwd = prepUTF8Password(pwd)
	if len(h.ue) >= 32 {
		valSalt, keySalt := h.uEntry[32:40], h.uEntry[40:48]
		if bytes.Equal(h.revisionHash(pwd, valSalt, nil), h.uEntry[:32]) {
			ik := h.revisionHash(pwd, keySalt, nil)
			key, err := aesCBCDecryptNoPad(ik, h.ue[:32])
			if err != nil {
				return err
			}
			h.key = key
			h.applyPermsEntry()
			return nil
		}
	}
	if len(h.oe) >= 32 && len(h.uEntry) >= 48 {
		valSalt, keySalt := h.oEntry[32:40], h.oEntry[40:48]
		udata := h.uEntry[:48]
		if bytes.Equal(h.revisionHash(pwd, valSalt, udata), h.oEntry[:32]) {
			ik := h.revisionHash(pwd, keySalt, udata)
			key, err := aesCBCDecryptNoPad(ik, h.oe[:32])
			if err != nil {
				return err
			}
			h.key = key
			h.applyPermsEntry()
			return nil
		}
	}
	return ErrInvalidPassword
}

func (h *standardHandler) revisionHash(pwd, salt, udata []byte) []byte {
	if h.r == 5 {
		return hashR5(pwd, salt, udata)
	}
	return hashR6(pwd, salt, udata)
}

// applyPermsEntry decodes the Perms entry and adopts its P value and
// EncryptMetadata flag. A missing or unverifiable entry leaves the
// dictionary values in place rather than failing authentication.
func (h *standardHandler) applyPermsEntry() {
	if len(h.permsEntry) != 16 || len(h.key) != 32 {
		return
	}
	out, err := aesECBDecryptBlock(h.key, h.permsEntry)
	if err != nil || !bytes.Equal(out[9:12], []byte("adb")) {
		return
	}
	h.p = int32(binary.LittleEndian.Uint32(out[0:4]))
	switch out[8] {
	case 'T':
		h.encryptMeta = true
	case 'F':
		h.encryptMeta = false
	}
}

func (h *standardHandler) DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	if class == DataClassMetadataStream && !h.encryptMeta {
		return data, nil
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, h.r, algo == algoAES)
	if algo == algoAES {
		return aesDecryptIVPrefixed(key, data)
	}
	return rc4Apply(key, data), nil
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.DecryptWithFilter(objNum, gen, data, class, "")
}

func (h *standardHandler) EncryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	if class == DataClassMetadataStream && !h.encryptMeta {
		return data, nil
	}
	algo, err := h.algoFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, objNum, gen, h.r, algo == algoAES)
	if algo == algoAES {
		return aesEncryptIVPrefixed(key, data)
	}
	return rc4Apply(key, data), nil
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.EncryptWithFilter(objNum, gen, data, class, "")
}

func (h *standardHandler) pickAlgo(class DataClass) cryptAlgo {
	switch class {
	case DataClassString:
		if h.stringAlgo != algoUnset {
			return h.stringAlgo
		}
	case DataClassStream, DataClassMetadataStream:
		if h.streamAlgo != algoUnset {
			return h.streamAlgo
		}
	}
	if h.v >= 4 {
		return algoAES
	}
	return algoRC4
}

func (h *standardHandler) algoFor(class DataClass, filter string) (cryptAlgo, error) {
	switch filter {
	case "":
		return h.pickAlgo(class), nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := h.cryptFilters[filter]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("crypt filter %s not defined", filter)
}

func (h *standardHandler) Permissions() Permissions {
	return Permissions{
		Print:             h.p&0x4 != 0,
		Modify:            h.p&0x8 != 0,
		Copy:              h.p&0x10 != 0,
		ModifyAnnotations: h.p&0x20 != 0,
		FillForms:         h.p&0x100 != 0,
		ExtractAccessible: h.p&0x200 != 0,
		Assemble:          h.p&0x400 != 0,
		PrintHighQuality:  h.p&0x800 != 0,
	}
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool                  { return false }
func (noEncryptionHandler) Authenticate(password string) error { return nil }
func (noEncryptionHandler) DecryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) EncryptWithFilter(objNum, gen int, data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Permissions() Permissions { return AllPermissions() }
func (noEncryptionHandler) EncryptMetadata() bool    { return false }

// NoopHandler returns a reusable pass-through encryption handler.
func NoopHandler() Handler { return noEncryptionHandler{} }

func parseCryptFilters(dict object.Dictionary, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo)
	cfObj, ok := dict.Get(object.NameLiteral("CF"))
	if !ok {
		return out, nil
	}
	cfDict, ok := cfObj.(object.Dictionary)
	if !ok {
		return nil, errors.New("CF must be a dictionary")
	}
	for _, key := range cfDict.Keys() {
		entryObj, _ := cfDict.Get(key)
		entry, ok := entryObj.(object.Dictionary)
		if !ok {
			return nil, errors.New("crypt filter entry must be a dictionary")
		}
		algo := base
		if cfm := nameVal(entry, "CFM"); cfm != "" {
			switch cfm {
			case "V2":
				algo = algoRC4
			case "AESV2", "AESV3":
				algo = algoAES
			case "None":
				algo = algoNone
			default:
				return nil, fmt.Errorf("%w: crypt filter method %s", ErrUnsupportedEncryption, cfm)
			}
		}
		out[key.Value()] = algo
	}
	return out, nil
}

func resolveCryptFilter(dict object.Dictionary, key string, def cryptAlgo, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name := nameVal(dict, key)
	switch name {
	case "":
		return def, nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("crypt filter %s not defined", name)
}

func firstFileID(trailer object.Dictionary) []byte {
	idObj, ok := trailer.Get(object.NameLiteral("ID"))
	if !ok {
		return nil
	}
	arr, ok := idObj.(object.Array)
	if !ok || arr.Len() == 0 {
		return nil
	}
	first, _ := arr.Get(0)
	if s, ok := first.(object.String); ok {
		return s.Value()
	}
	return nil
}

func numberVal(dict object.Dictionary, key string) (int64, bool) {
	if dict == nil {
		return 0, false
	}
	if v, ok := dict.Get(object.NameLiteral(key)); ok {
		if n, ok := v.(object.Number); ok {
			return n.Int(), true
		}
	}
	return 0, false
}

func stringBytes(dict object.Dictionary, key string) ([]byte, bool) {
	if dict == nil {
		return nil, false
	}
	if v, ok := dict.Get(object.NameLiteral(key)); ok {
		if s, ok := v.(object.String); ok {
			return s.Value(), true
		}
	}
	return nil, false
}

func boolVal(dict object.Dictionary, key string) (bool, bool) {
	if dict == nil {
		return false, false
	}
	if v, ok := dict.Get(object.NameLiteral(key)); ok {
		if b, ok := v.(object.Boolean); ok {
			return b.Value(), true
		}
	}
	return false, false
}

func nameVal(dict object.Dictionary, key string) string {
	if dict == nil {
		return ""
	}
	if v, ok := dict.Get(object.NameLiteral(key)); ok {
		if n, ok := v.(object.Name); ok {
			return n.Value()
		}
	}
	return ""
}
