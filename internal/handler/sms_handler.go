package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/foodfusion/internal/model"
	"github.com/hitoshi/foodfusion/internal/sms"
)

// SMSHandler はSMSゲートウェイエンドポイントのHTTPハンドラー。
// チェックアウトのSMSクライアントはこのエンドポイントに送信する。
type SMSHandler struct {
	dispatcher sms.Dispatcher
}

// NewSMSHandler はSMSHandlerを生成する。
func NewSMSHandler(dispatcher sms.Dispatcher) *SMSHandler {
	return &SMSHandler{dispatcher: dispatcher}
}

// Send はSMSを送出する。
// 成功時は200 {success:true}、入力不正は400、送出失敗は500で {success:false, error} を返す。
// POST /api/send-sms
func (h *SMSHandler) Send(w http.ResponseWriter, r *http.Request) {
	var msg sms.Message
	if err := decodeJSON(r, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, sms.Response{Success: false, Error: "invalid request body"})
		return
	}

	msg, err := sms.Validate(msg)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			writeJSON(w, http.StatusBadRequest, sms.Response{Success: false, Error: apiErr.Message})
			return
		}
		writeJSON(w, http.StatusBadRequest, sms.Response{Success: false, Error: err.Error()})
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), msg); err != nil {
		slog.Error("SMS dispatch failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, sms.Response{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sms.Response{Success: true})
}
