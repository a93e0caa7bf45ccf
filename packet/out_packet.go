package packet

import "encoding/json"

// OutPacket is the response to exactly one request. Exactly one of response and
// error message is populated, selected by success.
type OutPacket struct {
	id           string
	success      bool
	response     string
	errorMessage string

	hasResponse     bool
	hasErrorMessage bool
}

// Success builds a successful response.
func Success(id, response string) *OutPacket {
	return &OutPacket{id: id, success: true, response: response, hasResponse: true}
}

// Error builds a failed response. The transaction id is taken as given so that
// requests without an id can still be answered; such a response fails Validate.
func Error(id, message string) *OutPacket {
	return &OutPacket{id: id, errorMessage: message, hasErrorMessage: true}
}

// NewOutPacket builds a response from raw parts and fails unless the parts
// satisfy every OutPacket rule.
func NewOutPacket(id string, success bool, response *string, errorMessage *string) (*OutPacket, error) {
	p := &OutPacket{id: id, success: success}
	p.setParts(response, errorMessage)

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *OutPacket) TransactionID() string {
	return p.id
}

func (p *OutPacket) Type() string {
	return TypeOutPacket
}

func (p *OutPacket) Success() bool {
	return p.success
}

// Response is empty for failed responses.
func (p *OutPacket) Response() string {
	return p.response
}

// ErrorMessage is empty for successful responses.
func (p *OutPacket) ErrorMessage() string {
	return p.errorMessage
}

// Err returns nil for a successful response and a *ResponseError otherwise.
func (p *OutPacket) Err() error {
	if p.success {
		return nil
	}
	return &ResponseError{TransactionID: p.id, Message: p.errorMessage}
}

func (p *OutPacket) Validate() error {
	if err := ValidateTransactionID(TypeOutPacket, p.id); err != nil {
		return err
	}
	if !p.success && p.hasResponse {
		return NewValidationError(TypeOutPacket, "Response should be null for failed operations")
	}
	if p.success && !p.hasResponse {
		return NewValidationError(TypeOutPacket, "Response cannot be null for successful operations")
	}
	if p.success && p.hasErrorMessage {
		return NewValidationError(TypeOutPacket, "Error message should be null for successful operations")
	}
	if !p.success && p.errorMessage == "" {
		return NewValidationError(TypeOutPacket, "Error message cannot be null or empty for failed operations")
	}
	return nil
}

func (p *OutPacket) setParts(response, errorMessage *string) {
	if response != nil {
		p.response, p.hasResponse = *response, true
	}
	if errorMessage != nil {
		p.errorMessage, p.hasErrorMessage = *errorMessage, true
	}
}

type outPacketWire struct {
	TransactionID string  `json:"transactionId"`
	Response      *string `json:"response"`
	Success       bool    `json:"success"`
	ErrorMessage  *string `json:"errorMessage"`
}

func (p *OutPacket) MarshalJSON() ([]byte, error) {
	w := outPacketWire{TransactionID: p.id, Success: p.success}
	if p.hasResponse {
		w.Response = &p.response
	}
	if p.hasErrorMessage {
		w.ErrorMessage = &p.errorMessage
	}
	return json.Marshal(&w)
}

// UnmarshalJSON accepts any shape; whether the decoded response is well formed
// is left to Validate.
func (p *OutPacket) UnmarshalJSON(data []byte) error {
	var w outPacketWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*p = OutPacket{id: w.TransactionID, success: w.Success}
	p.setParts(w.Response, w.ErrorMessage)
	return nil
}

// ResponseError is the error form of a failed OutPacket.
type ResponseError struct {
	TransactionID string
	Message       string
}

func (e *ResponseError) Error() string {
	return e.Message
}
