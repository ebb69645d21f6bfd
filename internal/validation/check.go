package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-openapi/jsonpointer"

	"github.com/mcnielsen/nepal-core/internal/domain"
)

// Directive 描述对一个响应的校验要求。
type Directive struct {
	// SchemaID 用于校验的 Schema ID
	SchemaID string
	// Providers 提供 Schema 的 Provider 列表
	Providers []Provider
	// Path 可选的子路径，点号分隔（如 "data.items"），为空表示校验整个响应体
	Path string
}

// ValidationError 表示响应未通过校验，或要求校验的子路径不存在。
type ValidationError struct {
	SchemaID string
	// Data 被校验的数据（子路径缺失时为整个响应体）
	Data   any
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("response failed validation against %s: %s", e.SchemaID, e.Reason)
}

// Is 使 errors.Is(err, domain.ErrValidation) 成立。
func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CheckResponse 按 Directive 校验响应体。
func CheckResponse(ctx context.Context, d Directive, body []byte) error {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return &ValidationError{SchemaID: d.SchemaID, Data: string(body), Reason: "response is not JSON", Err: err}
	}

	if d.Path != "" {
		sub, err := extract(data, d.Path)
		if err != nil {
			return &ValidationError{
				SchemaID: d.SchemaID,
				Data:     data,
				Reason:   fmt.Sprintf("path %q not found", d.Path),
				Err:      err,
			}
		}
		data = sub
	}

	return NewResolver(d.Providers...).Validate(ctx, d.SchemaID, data)
}

// extract 读取点号分隔的子路径。
func extract(data any, path string) (any, error) {
	tokens := strings.Split(path, ".")
	for i, tok := range tokens {
		tokens[i] = jsonpointer.Escape(tok)
	}
	p, err := jsonpointer.New("/" + strings.Join(tokens, "/"))
	if err != nil {
		return nil, err
	}
	v, _, err := p.Get(data)
	if err != nil {
		return nil, err
	}
	return v, nil
}
