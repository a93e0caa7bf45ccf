// Package packet defines the packets exchanged between ocean clients and servers,
// the registry used to decode them by type identifier and the envelope codec.
package packet

import (
	"errors"
	"fmt"
)

const (
	TypeOutPacket      = "OUT_PACKET"
	TypeSimpleInPacket = "SIMPLE_IN_PACKET"
)

var ErrEmptyTransactionID = errors.New("transaction id cannot be empty")

// Packet is implemented by every request and response variant.
type Packet interface {
	TransactionID() string
	Type() string
	// Validate reports the first structural rule the packet violates, as a
	// *ValidationError, or nil.
	Validate() error
}

type ValidationError struct {
	Type   string
	Reason string
}

func NewValidationError(typeID, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Type: typeID, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValid is a convenience wrapper around Validate.
func IsValid(p Packet) bool {
	return p != nil && p.Validate() == nil
}

// ValidateTransactionID is the rule shared by all packet variants.
func ValidateTransactionID(typeID, id string) error {
	if id == "" {
		return NewValidationError(typeID, "Transaction ID cannot be null or empty")
	}
	return nil
}

type SimpleInPacket struct {
	ID      string `json:"transactionId"`
	Message string `json:"message"`
}

func NewSimpleInPacket(id, message string) *SimpleInPacket {
	return &SimpleInPacket{ID: id, Message: message}
}

func (p *SimpleInPacket) TransactionID() string {
	return p.ID
}

func (p *SimpleInPacket) Type() string {
	return TypeSimpleInPacket
}

func (p *SimpleInPacket) Validate() error {
	return ValidateTransactionID(TypeSimpleInPacket, p.ID)
}
