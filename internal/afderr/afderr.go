// Package afderr defines the transfer-engine exit code taxonomy (spec §6, §7).
package afderr

// Code is an AFD sender/retriever exit code. Each error class maps 1:1 to a
// documented integer; TransferSuccess is the only non-error value.
type Code int

// Exit codes, in the order documented in spec §6.
const (
	TransferSuccess     Code = 0
	ConnectError         Code = 1
	UserError            Code = 2
	PasswordError        Code = 3
	TypeError            Code = 4
	ChdirError           Code = 5
	OpenRemoteError      Code = 6
	WriteRemoteError     Code = 7
	CloseRemoteError     Code = 8
	MoveRemoteError      Code = 9
	ReadRemoteError      Code = 10
	WriteLockError       Code = 11
	RemoveLockfileError  Code = 12
	TimeoutError         Code = 13
	OpenLocalError       Code = 14
	ReadLocalError       Code = 15
	WriteLocalError       Code = 16
	AllocError           Code = 17
	StillFilesToSend     Code = 18
	GotKilled            Code = 19

	// Incorrect is the internal "our code, not theirs" sentinel used by the
	// control channel reader: negative of the numeric reply code distinguishes
	// a local parse/logic failure from an echoed-back server reply.
	Incorrect Code = -1
)

func (c Code) String() string {
	switch c {
	case TransferSuccess:
		return "TRANSFER_SUCCESS"
	case ConnectError:
		return "CONNECT_ERROR"
	case UserError:
		return "USER_ERROR"
	case PasswordError:
		return "PASSWORD_ERROR"
	case TypeError:
		return "TYPE_ERROR"
	case ChdirError:
		return "CHDIR_ERROR"
	case OpenRemoteError:
		return "OPEN_REMOTE_ERROR"
	case WriteRemoteError:
		return "WRITE_REMOTE_ERROR"
	case CloseRemoteError:
		return "CLOSE_REMOTE_ERROR"
	case MoveRemoteError:
		return "MOVE_REMOTE_ERROR"
	case ReadRemoteError:
		return "READ_REMOTE_ERROR"
	case WriteLockError:
		return "WRITE_LOCK_ERROR"
	case RemoveLockfileError:
		return "REMOVE_LOCKFILE_ERROR"
	case TimeoutError:
		return "TIMEOUT_ERROR"
	case OpenLocalError:
		return "OPEN_LOCAL_ERROR"
	case ReadLocalError:
		return "READ_LOCAL_ERROR"
	case WriteLocalError:
		return "WRITE_LOCAL_ERROR"
	case AllocError:
		return "ALLOC_ERROR"
	case StillFilesToSend:
		return "STILL_FILES_TO_SEND"
	case GotKilled:
		return "GOT_KILLED"
	case Incorrect:
		return "INCORRECT"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Error wraps a Code with the operation that produced it and, for protocol
// errors, the raw reply. Negative ReplyCode means "our code" (Incorrect);
// a positive ReplyCode is the server's own numeric reply, preserved verbatim
// so callers can distinguish "our code" from "their code" per spec §7.
type Error struct {
	Code      Code
	Op        string
	ReplyCode int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Code.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error for a local failure (no server reply involved).
func New(op string, code Code, err error) *Error {
	return &Error{Code: code, Op: op, ReplyCode: int(Incorrect), Err: err}
}

// FromReply builds an Error carrying the server's numeric reply code.
func FromReply(op string, code Code, reply int, err error) *Error {
	return &Error{Code: code, Op: op, ReplyCode: reply, Err: err}
}
