package api

import (
	"io"
	"net/http"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/imaging"
	"github.com/rushteam/oralcare/predict"
)

// multipart 解析时内存中保留的上限，超出部分写入临时文件
const maxMemory = 32 << 20

func writeErrorField(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// POST /api/predict
//
// multipart 字段：image（文件，必填）、metadata（JSON 字符串，可选）。
// Authorization 可选，携带有效令牌时结果写入该用户的历史记录。
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if isTooLarge(err) {
			writeErrorField(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeErrorField(w, http.StatusBadRequest, imaging.ErrImageMissing.Message)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeErrorField(w, http.StatusBadRequest, imaging.ErrImageMissing.Message)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		if isTooLarge(err) {
			writeErrorField(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeErrorField(w, http.StatusBadRequest, imaging.ErrImageMissing.Message)
		return
	}

	req := predict.Request{
		ImageName:  header.Filename,
		ImageMime:  header.Header.Get("Content-Type"),
		Image:      data,
		Credential: r.Header.Get("Authorization"),
	}
	if vals, ok := r.MultipartForm.Value["metadata"]; ok && len(vals) > 0 {
		req.Metadata = []byte(vals[0])
	}

	pctx, err := s.Predictor.Predict(r.Context(), req)
	if err != nil {
		status, msg := predictError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("prediction failed", "error", err)
		}
		writeErrorField(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.Predictor.Response(pctx))
}

// predictError 输入错误返回 400，模型缺失返回描述性 500，其余推理失败统一为 "Prediction failed"
func predictError(err error) (int, string) {
	switch {
	case core.IsInvalidInput(err):
		return http.StatusBadRequest, core.GetDomainError(err).Message
	case core.IsModelUnavailable(err):
		return http.StatusInternalServerError, core.GetDomainError(err).Message
	default:
		return http.StatusInternalServerError, "Prediction failed"
	}
}
