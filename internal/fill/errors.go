package fill

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFill = errors.New("malformed fill")
	ErrUnknownSide   = errors.New("unknown fill side")
)

// MalformedFillError 表示原始记录缺少必填字段或字段无法解析。
type MalformedFillError struct {
	Field  string
	Reason string
	Raw    Raw
}

func (e *MalformedFillError) Error() string {
	return fmt.Sprintf("malformed fill: field %q %s", e.Field, e.Reason)
}

func (e *MalformedFillError) Is(target error) bool {
	return target == ErrMalformedFill
}

// UnknownSideError 表示方向既不是 buy 也不是 sell。
type UnknownSideError struct {
	Side string
	Raw  Raw
}

func (e *UnknownSideError) Error() string {
	return fmt.Sprintf("unknown fill side %q", e.Side)
}

func (e *UnknownSideError) Is(target error) bool {
	return target == ErrUnknownSide
}

// RawOf 从归一化错误中取回原始记录。
func RawOf(err error) (Raw, bool) {
	var malformed *MalformedFillError
	if errors.As(err, &malformed) {
		return malformed.Raw, true
	}
	var side *UnknownSideError
	if errors.As(err, &side) {
		return side.Raw, true
	}
	return nil, false
}
