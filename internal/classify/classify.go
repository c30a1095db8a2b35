// Package classify maps tool failures onto the short, fixed messages the
// model is allowed to see.
package classify

import (
	"errors"
	"strings"
)

// Messages returned to the model.
const (
	MsgCat3Requires    = "cat3를 쓰려면 cat1, cat2가 모두 필요합니다."
	MsgCat2Requires    = "cat2를 쓰려면 cat1이 필요합니다."
	MsgSigunguRequires = "sigunguCode를 쓰려면 areaCode가 필요합니다."
	MsgRadiusRange     = "radius는 1~20000 범위여야 합니다."
	MsgGeneric         = "요청 파라미터를 확인하세요."
	msgUnsupportedTool = "지원하지 않는 도구: "
)

// Error is a classified tool failure. Message is safe to send to the model;
// Raw keeps the original cause for logs.
type Error struct {
	Message string
	Raw     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Raw
}

type rule struct {
	all     []string
	any     []string
	message string
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{all: []string{"cat3", "cat1"}, message: MsgCat3Requires},
	{all: []string{"cat3"}, any: []string{"cat1", "cat2"}, message: MsgCat3Requires},
	{all: []string{"cat2", "cat1"}, message: MsgCat2Requires},
	{all: []string{"sigunguCode", "areaCode"}, message: MsgSigunguRequires},
	{all: []string{"radius"}, message: MsgRadiusRange},
}

func (r rule) matches(text string) bool {
	for _, s := range r.all {
		if !strings.Contains(text, s) {
			return false
		}
	}
	if len(r.any) == 0 {
		return true
	}
	for _, s := range r.any {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// Classify turns any failure into a classified Error. A nil err and text
// no rule recognizes both map to MsgGeneric. An already classified error is
// returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return &Error{Message: MsgGeneric}
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	text := err.Error()
	for _, r := range rules {
		if r.matches(text) {
			return &Error{Message: r.message, Raw: err}
		}
	}
	return &Error{Message: MsgGeneric, Raw: err}
}

// Unsupported reports a tool name that is not registered or not allowed.
func Unsupported(name string) *Error {
	return &Error{Message: msgUnsupportedTool + name}
}

// Message returns the model-facing text for err.
func Message(err error) string {
	return Classify(err).Message
}
