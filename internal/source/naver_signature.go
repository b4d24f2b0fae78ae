package source

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blowfish"
)

// golang.org/x/crypto/bcrypt only hashes with a random salt. Naver derives
// the client secret signature with the client secret as the salt, so the
// bcrypt core is reproduced here on top of the same blowfish primitives.

const (
	bcryptAlphabet     = "./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	bcryptSaltPrefix   = 7  // "$2a$04$"
	bcryptEncodedSalt  = 22 // 16 bytes
	bcryptHashedLen    = 23
	bcryptMaxPassword  = 72
	bcryptMinCost      = 4
	bcryptMaxCost      = 31
	bcryptSaltTotalLen = bcryptSaltPrefix + bcryptEncodedSalt
)

var (
	bcryptEncoding   = base64.NewEncoding(bcryptAlphabet).WithPadding(base64.NoPadding)
	bcryptMagicBlock = []byte("OrpheanBeholderScryDoubt")
)

// naverSignature returns base64(bcrypt(clientID + "_" + timestamp, salt=clientSecret)).
func naverSignature(clientID, clientSecret, timestamp string) (string, error) {
	hashed, err := bcryptWithSalt([]byte(clientID+"_"+timestamp), clientSecret)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(hashed), nil
}

// bcryptWithSalt hashes password using the modular-crypt salt
// "$2<v>$<cost>$<22 chars>" and returns the full 60 byte hash string.
func bcryptWithSalt(password []byte, salt string) ([]byte, error) {
	if len(salt) < bcryptSaltTotalLen {
		return nil, fmt.Errorf("bcrypt salt too short: %d chars", len(salt))
	}
	salt = salt[:bcryptSaltTotalLen]
	if salt[0] != '$' || salt[1] != '2' || salt[3] != '$' || salt[6] != '$' {
		return nil, fmt.Errorf("malformed bcrypt salt prefix %q", salt[:bcryptSaltPrefix])
	}
	switch salt[2] {
	case 'a', 'b', 'y':
	default:
		return nil, fmt.Errorf("unsupported bcrypt version %q", salt[1:3])
	}

	cost, err := strconv.Atoi(salt[4:6])
	if err != nil {
		return nil, fmt.Errorf("malformed bcrypt cost: %w", err)
	}
	if cost < bcryptMinCost || cost > bcryptMaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}

	rawSalt, err := bcryptEncoding.DecodeString(salt[bcryptSaltPrefix:])
	if err != nil {
		return nil, fmt.Errorf("malformed bcrypt salt: %w", err)
	}

	if len(password) > bcryptMaxPassword {
		password = password[:bcryptMaxPassword]
	}
	key := make([]byte, len(password)+1)
	copy(key, password)

	cipher, err := blowfish.NewSaltedCipher(key, rawSalt)
	if err != nil {
		return nil, fmt.Errorf("bcrypt setup: %w", err)
	}
	rounds := uint64(1) << uint(cost)
	for i := uint64(0); i < rounds; i++ {
		blowfish.ExpandKey(key, cipher)
		blowfish.ExpandKey(rawSalt, cipher)
	}

	block := make([]byte, len(bcryptMagicBlock))
	copy(block, bcryptMagicBlock)
	for i := 0; i < len(block); i += blowfish.BlockSize {
		for j := 0; j < 64; j++ {
			cipher.Encrypt(block[i:i+blowfish.BlockSize], block[i:i+blowfish.BlockSize])
		}
	}

	out := make([]byte, 0, bcryptSaltTotalLen+31)
	out = append(out, salt...)
	out = append(out, bcryptEncoding.EncodeToString(block[:bcryptHashedLen])...)
	return out, nil
}
