// Package protocol implements the COLLAB/1.0 line protocol: request
// parsing, command dispatch against the session's bound record, and
// response rendering.
package protocol

import (
	"fmt"

	"github.com/collabtree/collabd/pkg/directory"
)

// Version is the protocol identifier prefixed to every status line.
const Version = "COLLAB/1.0"

// Status is one wire status: a numeric code and its fixed message.
//
// Only this vocabulary ever reaches clients; internal error text stays in
// the server log.
type Status struct {
	Code    int
	Message string
}

func (s Status) String() string {
	return fmt.Sprintf("%s %d %s", Version, s.Code, s.Message)
}

var (
	StatusOK               = Status{200, "OK"}
	StatusBadRequest       = Status{400, "BAD REQUEST"}
	StatusClientTimeout    = Status{408, "TIMEOUT"}
	StatusInternalError    = Status{501, "INTERNAL ERROR"}
	StatusClientDisconnect = Status{600, "CLIENT DISCONNECT"}
	StatusNoSuchObject     = Status{601, "NO SUCH OBJECT"}
	StatusNoSuchAttribute  = Status{602, "NO SUCH ATTRIBUTE"}
	StatusNoSuchValue      = Status{603, "NO SUCH VALUE"}
	StatusServerTimeout    = Status{605, "SERVER TIMEOUT"}
	StatusExists           = Status{606, "ATTRIBUTE OR VALUE EXISTS"}
	StatusNotEditable      = Status{607, "REVISION NOT EDITABLE"}
	StatusUnknown          = Status{999, "UNKNOWN"}
)

// Response is the answer to one request line: zero or more data lines
// followed by exactly one status line. Close tells the session to end
// after writing it.
type Response struct {
	Data   []string
	Status Status
	Close  bool
}

func ok(data ...string) Response {
	return Response{Data: data, Status: StatusOK}
}

func failure(status Status) Response {
	return Response{Status: status}
}

// statusFor maps a domain error to its wire status. Store-specific error
// text never leaks; only the fixed vocabulary goes out.
func statusFor(err error) Status {
	code, isStore := directory.CodeOf(err)
	if !isStore {
		return StatusInternalError
	}
	switch code {
	case directory.ErrNotFound:
		return StatusNoSuchObject
	case directory.ErrNoSuchAttribute:
		return StatusNoSuchAttribute
	case directory.ErrNoSuchValue:
		return StatusNoSuchValue
	case directory.ErrValueExists:
		return StatusExists
	case directory.ErrNotEditable:
		return StatusNotEditable
	case directory.ErrInvalidArgument:
		return StatusBadRequest
	case directory.ErrTimeout:
		return StatusServerTimeout
	default:
		return StatusInternalError
	}
}
