// Package sms は注文確定SMSの送信機能を提供する。
// ゲートウェイ（/api/send-sms）を呼び出すクライアントと、ゲートウェイ側の送出実装を含む。
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/foodfusion/internal/metrics"
)

// ErrDeliveryFailed はゲートウェイが送信成功を返さなかった場合のエラー。
var ErrDeliveryFailed = errors.New("sms delivery failed")

// maxResponseBytes はゲートウェイ応答の読み取り上限。
const maxResponseBytes = 64 << 10

// Message はゲートウェイへ送る送信要求。
type Message struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Response はゲートウェイの応答。
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client はSMSゲートウェイのクライアント。
// 200以外のステータス、success:false、通信エラーはいずれも送信失敗として扱う。再送はしない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, endpoint string, logger *slog.Logger, mc metrics.MetricsCollector) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    mc,
		endpoint:   endpoint,
	}
}

// Send はSMSを1通送信する。送信に失敗した場合はErrDeliveryFailedをラップしたエラーを返す。
func (c *Client) Send(ctx context.Context, to, body string) error {
	start := time.Now()
	err := c.send(ctx, Message{To: to, Body: body})
	c.metrics.RecordSMSSend(err == nil, time.Since(start))
	return err
}

func (c *Client) send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: リクエストのエンコードに失敗しました: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: HTTPリクエストの作成に失敗しました: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FoodFusion/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("SMSゲートウェイの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("SMSゲートウェイの応答の読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %v", ErrDeliveryFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("SMSゲートウェイがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: ゲートウェイがステータス %d を返しました", ErrDeliveryFailed, resp.StatusCode)
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("SMSゲートウェイの応答のパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: レスポンスJSONのパースに失敗しました: %v", ErrDeliveryFailed, err)
	}
	if !result.Success {
		c.logger.Warn("SMSゲートウェイが送信失敗を返しました",
			slog.String("gateway_error", result.Error),
		)
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, result.Error)
	}

	c.logger.Info("SMSを送信しました", slog.String("to", maskNumber(msg.To)))
	return nil
}

// maskNumber はログ出力用に電話番号の末尾4桁以外を伏せる。
func maskNumber(number string) string {
	runes := []rune(number)
	if len(runes) <= 4 {
		return number
	}
	masked := make([]rune, len(runes))
	for i, r := range runes {
		if i < len(runes)-4 {
			masked[i] = '*'
		} else {
			masked[i] = r
		}
	}
	return string(masked)
}
