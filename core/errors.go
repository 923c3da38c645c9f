package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）、消息（Message）和所属模块（Module）
//   - 可包装底层错误（Err），兼容 errors.Is / errors.As
//   - 支持错误检查函数（IsXXX）
//
// 使用场景：
//   - 输入错误：INVALID_INPUT（缺少图片、扩展名不支持、metadata 非法 JSON）
//   - 模型错误：UNAVAILABLE（模型文件缺失）、INTERNAL_ERROR（推理失败）
//   - 存储错误：NOT_FOUND、CONFLICT、UNAVAILABLE
//   - 认证错误：UNAUTHORIZED
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "INVALID_INPUT"）
	Message string // 错误消息（可直接返回给调用方）
	Module  string // 模块名称（如 "store", "model", "image"）
	Err     error  // 底层错误（可选，仅用于日志）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is 按 Module + Code 比较，使 errors.Is(err, ErrStoreNotFound) 对包装后的错误同样成立。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// IsDomainError 检查错误链中是否存在 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的第一个 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// WrapDomainError 创建包装底层错误的领域错误
func WrapDomainError(module, code, message string, err error) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务/模型不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误
	ErrorCodeUnauthorized  = "UNAUTHORIZED"   // 未认证
	ErrorCodeConflict      = "CONFLICT"       // 资源冲突（如邮箱已注册）
)

// 模块名称常量
const (
	ModuleStore   = "store"   // 存储模块
	ModuleFeature = "feature" // 特征映射模块
	ModuleImage   = "image"   // 图片校验与预处理
	ModuleModel   = "model"   // 模型加载与推理
	ModuleService = "service" // 远程模型服务
	ModuleAuth    = "auth"    // 认证模块
	ModuleChat    = "chat"    // 助手模块
)

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }

// IsUnavailable 检查错误是否为 UNAVAILABLE
func IsUnavailable(err error) bool { return hasCode(err, ErrorCodeUnavailable) }

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool { return hasCode(err, ErrorCodeInvalidInput) }

// IsUnauthorized 检查错误是否为 UNAUTHORIZED
func IsUnauthorized(err error) bool { return hasCode(err, ErrorCodeUnauthorized) }

// IsConflict 检查错误是否为 CONFLICT
func IsConflict(err error) bool { return hasCode(err, ErrorCodeConflict) }

// IsModelUnavailable 检查错误是否为模型不可用（模型文件缺失或加载失败）
func IsModelUnavailable(err error) bool {
	domainErr := GetDomainError(err)
	return domainErr != nil && domainErr.Module == ModuleModel && domainErr.Code == ErrorCodeUnavailable
}
