// Package codec implements the wire formats used by the routing engine: the
// fixed-layout compose header that rides on every inbound transport message,
// and the forward / reverse inner payloads carried inside it.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/omnihop/router/pkg/types"
)

// ComposeHeaderLen is the length of the fixed compose header:
// sequence (8) + source chain id (4) + amount (32) + origin account (32).
const ComposeHeaderLen = 8 + 4 + 32 + 32

// DecodeCompose parses the fixed-layout compose header and returns the
// credited amount plus the variable-length inner payload. A buffer shorter
// than the header decodes to (zero, nil) rather than an error, so that a
// malformed header degrades to "zero credited, empty payload" instead of
// aborting message delivery.
func DecodeCompose(buf []byte) (amount *big.Int, inner []byte) {
	if len(buf) < ComposeHeaderLen {
		return big.NewInt(0), nil
	}

	// Amount: buf[12] for 32. Sequence and source chain id are transport
	// bookkeeping the router does not consume.
	amount = new(big.Int).SetBytes(buf[12:44])

	return amount, buf[ComposeHeaderLen:]
}

// EncodeCompose builds a compose message from its parts. Used by the devnet
// transport surface and by tests.
func EncodeCompose(sequence uint64, srcChain types.ChainID, amount *big.Int, origin types.Account, inner []byte) []byte {
	buf := new(bytes.Buffer)
	mustWrite(buf, sequence)
	mustWrite(buf, uint32(srcChain))
	buf.Write(amountBytes32(amount))
	buf.Write(origin[:])
	buf.Write(inner)
	return buf.Bytes()
}

// ForwardMessage is the inner payload of a wrap-and-forward compose message.
type ForwardMessage struct {
	FinalChainID   types.ChainID
	FinalRecipient types.Account
	RefundAccount  ethCommon.Address
	MinOutput      *big.Int
}

const forwardMessageLen = 4 + 32 + 20 + 32

// DecodeForward parses a ForwardMessage from an inner payload.
func DecodeForward(data []byte) (*ForwardMessage, error) {
	if len(data) != forwardMessageLen {
		return nil, fmt.Errorf("invalid forward payload length: %d", len(data))
	}

	msg := &ForwardMessage{}
	reader := bytes.NewReader(data)

	var chain uint32
	if err := binary.Read(reader, binary.BigEndian, &chain); err != nil {
		return nil, fmt.Errorf("failed to read final chain id: %w", err)
	}
	msg.FinalChainID = types.ChainID(chain)

	if err := binary.Read(reader, binary.BigEndian, &msg.FinalRecipient); err != nil {
		return nil, fmt.Errorf("failed to read final recipient: %w", err)
	}

	refund, err := readAddress(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read refund account: %w", err)
	}
	msg.RefundAccount = refund

	minOut, err := readAmount(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read min output: %w", err)
	}
	msg.MinOutput = minOut

	return msg, nil
}

// Encode serializes the ForwardMessage.
func (m *ForwardMessage) Encode() []byte {
	buf := new(bytes.Buffer)
	mustWrite(buf, uint32(m.FinalChainID))
	buf.Write(m.FinalRecipient[:])
	buf.Write(m.RefundAccount.Bytes())
	buf.Write(amountBytes32(m.MinOutput))
	return buf.Bytes()
}

// ReverseMessage is the inner payload of an unwrap compose message. UnwindBps
// bounds how much of the credited share amount is unwound, in basis points;
// the legacy always-100% layout without this field is no longer accepted.
type ReverseMessage struct {
	SourceAsset      ethCommon.Address
	FinalChainID     types.ChainID
	FinalRecipient   types.Account
	RefundAccount    ethCommon.Address
	UnwindBps        uint16
	MinOutput        *big.Int
	TransportOptions []byte
	TransportPayload []byte
}

const reverseMessageMinLen = 20 + 4 + 32 + 20 + 2 + 32 + 2 + 2

// DecodeReverse parses a ReverseMessage from an inner payload.
func DecodeReverse(data []byte) (*ReverseMessage, error) {
	if len(data) < reverseMessageMinLen {
		return nil, fmt.Errorf("invalid reverse payload length: %d", len(data))
	}

	msg := &ReverseMessage{}
	reader := bytes.NewReader(data)

	asset, err := readAddress(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read source asset: %w", err)
	}
	msg.SourceAsset = asset

	var chain uint32
	if err := binary.Read(reader, binary.BigEndian, &chain); err != nil {
		return nil, fmt.Errorf("failed to read final chain id: %w", err)
	}
	msg.FinalChainID = types.ChainID(chain)

	if err := binary.Read(reader, binary.BigEndian, &msg.FinalRecipient); err != nil {
		return nil, fmt.Errorf("failed to read final recipient: %w", err)
	}

	refund, err := readAddress(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read refund account: %w", err)
	}
	msg.RefundAccount = refund

	if err := binary.Read(reader, binary.BigEndian, &msg.UnwindBps); err != nil {
		return nil, fmt.Errorf("failed to read unwind bps: %w", err)
	}

	minOut, err := readAmount(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read min output: %w", err)
	}
	msg.MinOutput = minOut

	msg.TransportOptions, err = readLengthPrefixed(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read transport options: %w", err)
	}

	msg.TransportPayload, err = readLengthPrefixed(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read transport payload: %w", err)
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after reverse payload", reader.Len())
	}

	return msg, nil
}

// Encode serializes the ReverseMessage.
func (m *ReverseMessage) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Write(m.SourceAsset.Bytes())
	mustWrite(buf, uint32(m.FinalChainID))
	buf.Write(m.FinalRecipient[:])
	buf.Write(m.RefundAccount.Bytes())
	mustWrite(buf, m.UnwindBps)
	buf.Write(amountBytes32(m.MinOutput))
	mustWrite(buf, uint16(len(m.TransportOptions))) // #nosec G115 -- options are bounded by the wire format
	buf.Write(m.TransportOptions)
	mustWrite(buf, uint16(len(m.TransportPayload))) // #nosec G115 -- payload is bounded by the wire format
	buf.Write(m.TransportPayload)
	return buf.Bytes()
}

func readAddress(reader *bytes.Reader) (ethCommon.Address, error) {
	var raw [20]byte
	if _, err := io.ReadFull(reader, raw[:]); err != nil {
		return ethCommon.Address{}, err
	}
	return ethCommon.BytesToAddress(raw[:]), nil
}

func readAmount(reader *bytes.Reader) (*big.Int, error) {
	var raw [32]byte
	if _, err := io.ReadFull(reader, raw[:]); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw[:]), nil
}

func readLengthPrefixed(reader *bytes.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func amountBytes32(amount *big.Int) []byte {
	var raw [32]byte
	if amount != nil {
		amount.FillBytes(raw[:])
	}
	return raw[:]
}

// mustWrite calls binary.Write and panics on errors.
func mustWrite(w io.Writer, data interface{}) {
	if err := binary.Write(w, binary.BigEndian, data); err != nil {
		panic(fmt.Errorf("failed to write binary data: %v", data).Error())
	}
}
