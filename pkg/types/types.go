// Package types holds the identity and amount primitives shared by the
// routing engine: chain ids, 32-byte account ids, message GUIDs and the
// decimal rescaling helper.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// ChainID identifies a chain in the transport layer's numbering scheme.
type ChainID uint32

func (c ChainID) String() string {
	return fmt.Sprintf("%d", uint32(c))
}

// Account is an opaque 32-byte cross-chain account identifier. Local EVM-style
// addresses are left-padded into the low 20 bytes.
type Account [32]byte

func (a Account) String() string {
	return hex.EncodeToString(a[:])
}

func (a Account) Bytes() []byte {
	return a[:]
}

func (a Account) IsZero() bool {
	return a == Account{}
}

// Eth interprets the account as a local 20-byte address. The second return is
// false if the high 12 bytes are not zero, meaning the account cannot
// represent a local address.
func (a Account) Eth() (ethCommon.Address, bool) {
	for _, b := range a[0:12] {
		if b != 0 {
			return ethCommon.Address{}, false
		}
	}
	return ethCommon.BytesToAddress(a[12:]), true
}

// AccountFromEth left-pads a local address into an Account.
func AccountFromEth(addr ethCommon.Address) Account {
	var a Account
	copy(a[12:], addr.Bytes())
	return a
}

// StringToAccount converts a hex-encoded account id (with or without a
// leading "0x") into an Account.
func StringToAccount(value string) (Account, error) {
	var account Account

	value = strings.TrimPrefix(value, "0x")

	res, err := hex.DecodeString(value)
	if err != nil {
		return account, err
	}
	if len(res) > 32 {
		return account, fmt.Errorf("account id longer than 32 bytes")
	}
	copy(account[32-len(res):], res)

	return account, nil
}

// GUID is the globally unique identifier of one inbound cross-chain message,
// used for replay protection.
type GUID [32]byte

func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// StringToGUID converts a hex-encoded message id into a GUID.
func StringToGUID(value string) (GUID, error) {
	var g GUID

	value = strings.TrimPrefix(value, "0x")

	res, err := hex.DecodeString(value)
	if err != nil {
		return g, err
	}
	if len(res) != 32 {
		return g, fmt.Errorf("guid must be exactly 32 bytes")
	}
	copy(g[:], res)

	return g, nil
}
