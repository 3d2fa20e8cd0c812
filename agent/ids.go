package agent

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"

	"github.com/google/uuid"
)

// ErrInvalidStepIndex is returned when a step index exceeds u32::MAX,
// the message-id derivation's only failure mode (spec §4.7.1).
var ErrInvalidStepIndex = errors.New("agent: stepIndex exceeds u32 range")

func u32be(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// runIDBytes derives the 16-byte identity a runID contributes to a
// message-id hash. A well-formed UUID contributes its raw bytes
// directly; any other runID string is folded through SHA-256 and
// truncated to 16 bytes so the derivation stays total over arbitrary
// caller-supplied run identifiers.
func runIDBytes(runID string) []byte {
	if id, err := uuid.Parse(runID); err == nil {
		b := id
		return b[:]
	}
	sum := sha256.Sum256([]byte(runID))
	return sum[:16]
}

// UserMessageID computes the deterministic id for a user-turn message:
// sha256("HMSG1" || runID-bytes || u32be(stepIndex) || "user" || u32be(0)).
func UserMessageID(runID string, stepIndex int) (string, error) {
	if stepIndex < 0 || uint64(stepIndex) > math.MaxUint32 {
		return "", ErrInvalidStepIndex
	}
	h := sha256.New()
	h.Write([]byte("HMSG1"))
	h.Write(runIDBytes(runID))
	h.Write(u32be(uint32(stepIndex)))
	h.Write([]byte("user"))
	h.Write(u32be(0))
	return "msg:" + hex.EncodeToString(h.Sum(nil)), nil
}

// AssistantOrSystemMessageID computes the deterministic id for an
// assistant or system message produced by a task:
// sha256("HMSG1" || utf8(taskID) || 0x00 || role-bytes || u32be(0)).
func AssistantOrSystemMessageID(taskID, role string) string {
	h := sha256.New()
	h.Write([]byte("HMSG1"))
	h.Write([]byte(taskID))
	h.Write([]byte{0x00})
	h.Write([]byte(role))
	h.Write(u32be(0))
	return "msg:" + hex.EncodeToString(h.Sum(nil))
}

// ToolResponseMessageID returns "tool:"+callID, or "tool:"+callID+":cancelled"
// for synthesized cancellation responses.
func ToolResponseMessageID(callID string, cancelled bool) string {
	if cancelled {
		return "tool:" + callID + ":cancelled"
	}
	return "tool:" + callID
}
