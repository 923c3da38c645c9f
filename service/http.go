package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// addAuth 添加认证信息到 HTTP 请求
func addAuth(req *http.Request, auth *AuthConfig) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "api_key":
		req.Header.Set("X-API-Key", auth.APIKey)
	}
}

// postJSON 发送 JSON 请求并返回 200 响应体，非 200 时错误中带上 prefix 与响应内容
func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, auth *AuthConfig, prefix string) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s marshal request: %w", prefix, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%s create request: %w", prefix, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	addAuth(httpReq, auth)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", prefix, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", prefix, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s error: status=%d, body=%s", prefix, resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

// getOK 发送 GET 请求，非 200 视为失败
func getOK(ctx context.Context, client *http.Client, url string, auth *AuthConfig, prefix string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s create request: %w", prefix, err)
	}
	addAuth(httpReq, auth)

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed: status=%d, body=%s", prefix, resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// flattenRow 把单个样本的输出（标量或任意嵌套数组）展开为 []float64。
// 例如 0.8 -> [0.8]，[[0.1, 0.9]] -> [0.1, 0.9]。
func flattenRow(v interface{}) ([]float64, error) {
	switch val := v.(type) {
	case float64:
		return []float64{val}, nil
	case []interface{}:
		out := make([]float64, 0, len(val))
		for _, item := range val {
			sub, err := flattenRow(item)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected prediction type: %T", v)
	}
}

// parseRows 解析 predictions 数组，返回每个样本的首个值与完整输出
func parseRows(items []interface{}) ([]float64, [][]float64, error) {
	predictions := make([]float64, 0, len(items))
	scores := make([][]float64, 0, len(items))
	for _, item := range items {
		row, err := flattenRow(item)
		if err != nil {
			return nil, nil, err
		}
		if len(row) == 0 {
			return nil, nil, fmt.Errorf("empty prediction row")
		}
		predictions = append(predictions, row[0])
		scores = append(scores, row)
	}
	return predictions, scores, nil
}

// splitRows 把行优先的扁平输出按样本数切分
func splitRows(data []float64, rows int) ([]float64, [][]float64, error) {
	if rows <= 0 || len(data) == 0 || len(data)%rows != 0 {
		return nil, nil, fmt.Errorf("cannot split %d outputs into %d rows", len(data), rows)
	}
	width := len(data) / rows
	predictions := make([]float64, rows)
	scores := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		scores[i] = data[i*width : (i+1)*width]
		predictions[i] = scores[i][0]
	}
	return predictions, scores, nil
}
