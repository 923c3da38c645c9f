package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Wrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("insert record: %w", WrapDomainError(ModuleStore, ErrorCodeUnavailable, "store unavailable", cause))

	if !IsUnavailable(err) {
		t.Error("包装后的错误应识别为 UNAVAILABLE")
	}
	if !errors.Is(err, cause) {
		t.Error("应能通过 errors.Is 找到底层错误")
	}
	if GetDomainError(err).Module != ModuleStore {
		t.Error("模块名错误")
	}
	if IsModelUnavailable(err) {
		t.Error("存储错误不应被识别为模型不可用")
	}
}

func TestDomainError_Is(t *testing.T) {
	err := fmt.Errorf("get user: %w", ErrStoreNotFound)
	if !errors.Is(err, ErrStoreNotFound) {
		t.Error("errors.Is 应匹配 ErrStoreNotFound")
	}
	if !IsStoreNotFound(err) || !IsNotFound(err) {
		t.Error("应识别为 NOT_FOUND")
	}
	other := NewDomainError(ModuleAuth, ErrorCodeNotFound, "x")
	if errors.Is(other, ErrStoreNotFound) {
		t.Error("不同模块的错误不应匹配")
	}
	if IsDomainError(errors.New("plain")) || IsDomainError(nil) {
		t.Error("普通错误不是 DomainError")
	}
}

func TestTensor(t *testing.T) {
	tensor := NewTensor(1, 2, 3)
	for i := range tensor.Data {
		tensor.Data[i] = float32(i)
	}
	if err := tensor.Validate(1, 2, 3); err != nil {
		t.Fatalf("Validate 失败: %v", err)
	}
	if err := tensor.Validate(1, 3, 2); err == nil {
		t.Error("形状不一致时应报错")
	}

	nested, ok := tensor.Nested().([]interface{})
	if !ok || len(nested) != 1 {
		t.Fatalf("首维错误: %#v", tensor.Nested())
	}
	rows := nested[0].([]interface{})
	last := rows[1].([]float32)
	if len(rows) != 2 || last[2] != 5 {
		t.Errorf("嵌套展开错误: %#v", rows)
	}

	broken := &Tensor{Shape: []int64{2, 2}, Data: []float32{1}}
	if err := broken.Validate(); err == nil {
		t.Error("数据长度与形状不符时应报错")
	}
}

func TestPredictContext_UserID(t *testing.T) {
	pctx := &PredictContext{Attribution: Attribution{Status: StepFailed, UserID: "u1"}}
	if pctx.UserID() != "" {
		t.Error("身份识别失败时不应返回用户 ID")
	}
	pctx.Attribution.Status = StepSucceeded
	if pctx.UserID() != "u1" {
		t.Error("身份识别成功时应返回用户 ID")
	}
}

func TestMLPredictRequest_Rows(t *testing.T) {
	if (&MLPredictRequest{Tensor: NewTensor(1, 224, 224, 3)}).Rows() != 1 {
		t.Error("张量请求样本数应为 1")
	}
	if (&MLPredictRequest{Instances: [][]float64{{1}, {2}}}).Rows() != 2 {
		t.Error("Instances 样本数应为 2")
	}
	if !(&MLPredictRequest{}).Empty() {
		t.Error("空请求应返回 Empty")
	}
}
