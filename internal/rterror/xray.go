package rterror

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/aws/aws-xray-sdk-go/strategy/exception"
)

// MaxXRayCauseBytes bounds the cause header; larger causes are dropped.
const MaxXRayCauseBytes = 1 << 20

type xrayCause struct {
	WorkingDirectory string                `json:"working_directory"`
	Exceptions       []exception.Exception `json:"exceptions"`
	Paths            []string              `json:"paths"`
}

var formatter, _ = exception.NewDefaultFormattingStrategy()

// XRayCause renders v as the tracing-service error cause attached to error
// reports.
func XRayCause(v any) (string, error) {
	resp := ToResponse(v)
	err, ok := v.(error)
	if !ok {
		err = errors.New(resp.ErrorMessage)
	}

	ex := exception.Exception{Type: resp.ErrorType, Message: resp.ErrorMessage}
	if formatter != nil {
		ex = formatter.ExceptionFromError(err)
		ex.ID = ""
		ex.Type = resp.ErrorType
		ex.Message = resp.ErrorMessage
	}
	if ex.Stack == nil {
		ex.Stack = []exception.Stack{}
	}
	for i := range ex.Stack {
		if ex.Stack[i].Label == "" {
			ex.Stack[i].Label = "anonymous"
		}
	}

	wd, _ := os.Getwd()
	cause := xrayCause{
		WorkingDirectory: wd,
		Exceptions:       []exception.Exception{ex},
		Paths:            uniquePaths(ex.Stack),
	}
	b, merr := json.Marshal(cause)
	if merr != nil {
		return "", merr
	}
	return string(b), nil
}

func uniquePaths(stack []exception.Stack) []string {
	seen := make(map[string]bool, len(stack))
	paths := []string{}
	for _, s := range stack {
		if s.Path == "" || seen[s.Path] {
			continue
		}
		seen[s.Path] = true
		paths = append(paths, s.Path)
	}
	return paths
}
