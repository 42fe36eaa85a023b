package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration 所有配置错误都满足 errors.Is(err, ErrInvalidConfiguration)
var ErrInvalidConfiguration = errors.New("invalid scaling configuration")

// ConfigurationError 单个配置错误
type ConfigurationError struct {
	Field   string // 字段路径，例如 policies[1].max_total_slots
	Value   any
	Message string
}

// Error implements error
func (e ConfigurationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Is 支持 errors.Is(err, ErrInvalidConfiguration)
func (e ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// ConfigurationErrors 配置错误集合
type ConfigurationErrors []ConfigurationError

// Error implements error
func (e ConfigurationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d configuration errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is 支持 errors.Is(err, ErrInvalidConfiguration)
func (e ConfigurationErrors) Is(target error) bool {
	return target == ErrInvalidConfiguration && len(e) > 0
}

// UnreachablePolicyWarning 排在前面的 always 策略使后续策略永远不会生效
type UnreachablePolicyWarning struct {
	Policy      string
	Index       int
	Unreachable []string
}

// String 诊断信息
func (w UnreachablePolicyWarning) String() string {
	return fmt.Sprintf("policy %q (index %d) is always enabled; later policies are unreachable: %s",
		w.Policy, w.Index, strings.Join(w.Unreachable, ", "))
}
