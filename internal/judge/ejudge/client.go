// Package ejudge talks to the external judge's submit endpoint.
package ejudge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"ejsubmit/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSenderUserID = 5
	defaultTimeout      = 30 * time.Second
	submitAction        = "submit-run"
)

// Config is the process-wide judge connection setup.
type Config struct {
	// Endpoint is the default submit URL used when a job carries none.
	Endpoint string `yaml:"endpoint"`
	// Token is sent as a Bearer credential on every request.
	Token string `yaml:"token"`
	// SenderUserID is the judge-side account submissions are made as. Default: 5
	SenderUserID int           `yaml:"senderUserId"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SubmitRequest is one source file to hand to the judge.
type SubmitRequest struct {
	File       []byte
	Filename   string
	ContestID  int64
	ProblemID  int64
	LanguageID int64
}

// Result is the outcome reported by the judge. A non-zero Code is a normal
// outcome, not an error.
type Result struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// RunID returns the judge run id carried by a successful result.
func (r Result) RunID() (int64, bool) {
	raw, ok := r.Fields["run_id"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

type envelope struct {
	OK     bool                   `json:"ok"`
	Result map[string]interface{} `json:"result"`
	Error  *struct {
		Num     int    `json:"num"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client submits runs to the judge.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a client; httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.SenderUserID == 0 {
		cfg.SenderUserID = defaultSenderUserID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// DefaultEndpoint returns the configured submit URL.
func (c *Client) DefaultEndpoint() string {
	return c.cfg.Endpoint
}

// Submit sends req to endpoint (or the configured default) with a single PUT.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, endpoint string) (Result, error) {
	if endpoint == "" {
		endpoint = c.cfg.Endpoint
	}
	if endpoint == "" {
		return Result{}, fmt.Errorf("judge endpoint is not configured")
	}

	fields := [][2]string{
		{"lang_id", strconv.FormatInt(req.LanguageID, 10)},
		{"action", submitAction},
		{"problem", strconv.FormatInt(req.ProblemID, 10)},
		{"prob_id", strconv.FormatInt(req.ProblemID, 10)},
		{"sender_user_id", strconv.Itoa(c.cfg.SenderUserID)},
		{"contest_id", strconv.FormatInt(req.ContestID, 10)},
	}
	body, contentType, err := buildMultipart(fields, req.Filename, req.File)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("build request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	logger.Info(ctx, "judge submit request",
		zap.Int64("contest_id", req.ContestID),
		zap.Int64("problem_id", req.ProblemID),
		zap.Int64("lang_id", req.LanguageID),
		zap.String("endpoint", endpoint),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body failed: %w", err)
	}
	logger.Info(ctx, "judge submit response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.ByteString("body", raw),
	)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Error(ctx, "judge response is not json",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("decode judge response (status %d): %w", resp.StatusCode, err)
	}

	if env.OK {
		msg, _ := StatusMessage(CodeSubmitted)
		return Result{Code: CodeSubmitted, Message: msg, Fields: env.Result}, nil
	}
	if env.Error == nil {
		return Result{}, fmt.Errorf("judge response (status %d) has neither result nor error", resp.StatusCode)
	}
	logger.Warn(ctx, "judge rejected submission",
		zap.Int("status", resp.StatusCode),
		zap.Int("num", env.Error.Num),
		zap.String("message", env.Error.Message),
	)
	return resolveError(env.Error.Num, env.Error.Message), nil
}

func buildMultipart(fields [][2]string, filename string, file []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s failed: %w", f[0], err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part failed: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return nil, "", fmt.Errorf("write file part failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer failed: %w", err)
	}
	return body, w.FormDataContentType(), nil
}
