// internal/engine/codes.go
package engine

// ResultCode is returned to the chat layer from Start/Stop calls.
type ResultCode int

const (
	ResultSuccess ResultCode = iota
	ResultInternal
	ResultInsufficientBalance
	ResultInsufficientWorkingBalance
	ResultInsufficientRelayFee
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultInsufficientBalance:
		return "insufficient balance"
	case ResultInsufficientWorkingBalance:
		return "insufficient working balance"
	case ResultInsufficientRelayFee:
		return "insufficient relay fee"
	default:
		return "internal error"
	}
}
