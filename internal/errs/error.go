package errs

import (
	"errors"
	"fmt"
)

// codec failure kinds
var (
	ErrMalformedInput = errors.New("codec: malformed input")
	ErrSchemaMismatch = errors.New("codec: schema mismatch")
	ErrOverflow       = errors.New("codec: value overflows target type")
)

var (
	InvalidServiceName    = errors.New("typedrpc: invalid service name")
	InvalidProcedure      = errors.New("typedrpc: procedure must have a service and a name")
	ReadRespFailError     = errors.New("typedrpc: unable to read response")
	NilProxyError         = errors.New("typedrpc: client requires a proxy")
	DuplicateProcedure    = errors.New("typedrpc: procedure already registered")
	MissingArgumentError  = errors.New("typedrpc: missing argument")
	TooManyArgumentsError = errors.New("typedrpc: too many arguments")

	ProcedureNotFoundError = errors.New("typedrpc: procedure not found")
	UnknownSerializerError = errors.New("typedrpc: unknown serializer")
	UnknownCompressorError = errors.New("typedrpc: unknown compressor")
)

func NotFoundServiceMethod(name string) error {
	return fmt.Errorf("%w: %s", ProcedureNotFoundError, name)
}

func UnknownSerializer(code byte) error {
	return fmt.Errorf("%w: %d", UnknownSerializerError, code)
}

func UnknownCompressor(code byte) error {
	return fmt.Errorf("%w: %d", UnknownCompressorError, code)
}

func MissingArgument(procedure string, position int, name string) error {
	return fmt.Errorf("%w: %s parameter %d (%s)", MissingArgumentError, procedure, position, name)
}

func TooManyArguments(procedure string, want, got int) error {
	return fmt.Errorf("%w: %s takes %d, got %d", TooManyArgumentsError, procedure, want, got)
}
